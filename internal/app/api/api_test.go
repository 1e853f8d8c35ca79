package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafe-system/internal/auth"
	"cafe-system/internal/availability"
	"cafe-system/internal/catalog"
	"cafe-system/internal/common/config"
	"cafe-system/internal/common/logger"
	"cafe-system/internal/domain"
	"cafe-system/internal/idempotency"
	"cafe-system/internal/notify"
	"cafe-system/internal/order"
	"cafe-system/internal/reminder"
	"cafe-system/internal/repository/memory"
	"cafe-system/internal/stock"
)

func num(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

type fixture struct {
	t       *testing.T
	mem     *memory.Store
	srv     *Server
	auth    *auth.Provider
	branch  domain.Branch
	tomato  domain.Ingredient
	pizza   domain.MenuItem
	cookie  domain.ReadyProduct
	client  domain.User
	other   domain.User
	barista domain.User
	admin   domain.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, mem: memory.New()}
	mem := f.mem

	f.branch = mem.AddBranch(domain.Branch{DisplayName: "Central", TableCount: 5})
	cat := mem.AddCategory(domain.Category{Name: "pizza"})
	f.tomato = mem.AddIngredient(domain.Ingredient{Name: "tomato", Unit: domain.UnitGram})
	f.pizza = mem.AddItem(domain.MenuItem{CategoryID: cat.ID, Name: "Pizza", Price: num(500), IsAvailable: true},
		domain.Composition{IngredientID: f.tomato.ID, Quantity: num(100)})
	f.cookie = mem.AddProduct(domain.ReadyProduct{CategoryID: cat.ID, Name: "Cookie", Price: num(50)})
	mem.SetStock(f.branch.ID, f.tomato.ID, num(200))
	mem.SetReady(f.branch.ID, f.cookie.ID, 3)

	f.client = mem.AddUser(domain.User{DisplayName: "Ann", Role: domain.RoleClient})
	f.other = mem.AddUser(domain.User{DisplayName: "Bob", Role: domain.RoleClient})
	f.barista = mem.AddUser(domain.User{DisplayName: "Cid", Role: domain.RoleBarista, BranchID: &f.branch.ID})
	f.admin = mem.AddUser(domain.User{DisplayName: "Eve", Role: domain.RoleAdmin})

	lg := logger.Nop()
	ctx := context.Background()
	cat2 := catalog.New(mem, lg)
	require.NoError(t, cat2.Init(ctx))
	t.Cleanup(cat2.Shutdown)

	hub := notify.NewHub(mem, lg, 50*time.Millisecond)
	require.NoError(t, hub.Init(ctx))
	t.Cleanup(hub.Shutdown)

	jobs := reminder.New(mem, config.Scheduler{}, lg)
	engine := order.New(mem, cat2, notify.NewBus(hub, lg), jobs, config.Engine{MaxRetries: 3, RetryBackoff: time.Millisecond}, lg)
	stocks := stock.NewStore(mem)

	f.auth = auth.New(config.Auth{Secret: "test-secret-0123456789", Issuer: "cafe-system"}, mem)
	f.srv = New(Deps{
		Store:    mem,
		Engine:   engine,
		Resolver: availability.NewResolver(cat2, stocks, mem),
		Stock:    stocks,
		Catalog:  cat2,
		Auth:     f.auth,
		Hub:      hub,
		Idem:     idempotency.NewMemoryStore(time.Hour),
		Logger:   lg,
	})
	return f
}

func (f *fixture) token(u domain.User) string {
	toks, err := f.auth.IssueTokens(context.Background(), u.ID)
	require.NoError(f.t, err)
	return toks.Access
}

type call struct {
	method, path string
	as           *domain.User
	body         any
	header       map[string]string
}

func (f *fixture) do(c call) *httptest.ResponseRecorder {
	f.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(f.t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.as != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(*c.as))
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) pizzaOrder(qty int) map[string]any {
	return map[string]any{
		"branch_id": f.branch.ID,
		"lines":     []map[string]any{{"item_id": f.pizza.ID, "quantity": qty}},
	}
}

func TestMenu_PublicAndValidated(t *testing.T) {
	f := setup(t)

	rec := f.do(call{method: http.MethodGet, path: fmt.Sprintf("/menu?branchId=%d", f.branch.ID)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode[availability.Menu](t, rec)
	require.Len(t, m.Items, 1)
	assert.Equal(t, "Pizza", m.Items[0].Name)
	require.Len(t, m.ReadyProducts, 1)
	assert.EqualValues(t, 3, m.ReadyProducts[0].InStock)

	rec = f.do(call{method: http.MethodGet, path: "/menu"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode[problem](t, rec).Code)

	rec = f.do(call{method: http.MethodGet, path: "/menu?branchId=999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmit_RequiresToken(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", body: f.pizzaOrder(1)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[problem](t, rec).Code)

	rec = f.do(call{method: http.MethodPost, path: "/orders", body: f.pizzaOrder(1),
		header: map[string]string{"Authorization": "Bearer not-a-token"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdmit_CreatesAndHidesFromOthers(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[map[string]any](t, rec)
	assert.Equal(t, "new", o["status"])
	assert.Equal(t, false, o["in_institution"])
	lines := o["lines"].([]any)
	require.Len(t, lines, 1)
	assert.Equal(t, "item", lines[0].(map[string]any)["kind"])
	assert.True(t, f.mem.Stock(f.branch.ID, f.tomato.ID).Equal(num(100)))

	path := fmt.Sprintf("/orders/%v", o["id"])
	assert.Equal(t, http.StatusOK, f.do(call{method: http.MethodGet, path: path, as: &f.client}).Code)
	assert.Equal(t, http.StatusOK, f.do(call{method: http.MethodGet, path: path, as: &f.barista}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(call{method: http.MethodGet, path: path, as: &f.other}).Code)

	rec = f.do(call{method: http.MethodGet, path: path + "/timeline", as: &f.client})
	require.Equal(t, http.StatusOK, rec.Code)
	log := decode[[]domain.StatusLogEntry](t, rec)
	require.Len(t, log, 1)
	assert.Equal(t, domain.StatusNew, log[0].Status)
}

func TestAdmit_InsufficientStockIs422(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(3)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decode[problem](t, rec)
	assert.Equal(t, "insufficient_stock", p.Code)
	assert.Equal(t, "item", p.Details["kind"])
	assert.EqualValues(t, f.pizza.ID, p.Details["id"])
	assert.True(t, f.mem.Stock(f.branch.ID, f.tomato.ID).Equal(num(200)))
}

func TestAdmit_IdempotencyKeyReplays(t *testing.T) {
	f := setup(t)
	hdr := map[string]string{headerIdempotencyKey: "k-1"}

	first := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1), header: hdr})
	require.Equal(t, http.StatusCreated, first.Code)
	second := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1), header: hdr})
	require.Equal(t, http.StatusCreated, second.Code)

	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.True(t, f.mem.Stock(f.branch.ID, f.tomato.ID).Equal(num(100)), "deducted once")

	// keys are per caller
	third := f.do(call{method: http.MethodPost, path: "/orders", as: &f.other, body: f.pizzaOrder(1), header: hdr})
	require.Equal(t, http.StatusCreated, third.Code)
	assert.Empty(t, third.Header().Get("Idempotent-Replayed"))
}

func TestAdmit_FailedRequestReleasesKey(t *testing.T) {
	f := setup(t)
	hdr := map[string]string{headerIdempotencyKey: "k-2"}
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(5), header: hdr})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1), header: hdr})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdvance_StatusCodes(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["id"]
	path := fmt.Sprintf("/orders/%v/advance", id)

	rec = f.do(call{method: http.MethodPost, path: path, as: &f.client, body: advanceRequest{Target: domain.StatusInProgress}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(call{method: http.MethodPost, path: path, as: &f.barista, body: advanceRequest{Target: domain.StatusCompleted}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decode[problem](t, rec).Code)

	rec = f.do(call{method: http.MethodPost, path: path, as: &f.barista, body: advanceRequest{Target: domain.StatusInProgress}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_progress", decode[map[string]any](t, rec)["status"])

	rec = f.do(call{method: http.MethodPost, path: path, as: &f.barista, body: map[string]string{"target": "baked"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvance_RejectsNonForwardTargets(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)})
	require.Equal(t, http.StatusCreated, rec.Code)
	path := fmt.Sprintf("/orders/%v/advance", decode[map[string]any](t, rec)["id"])

	for _, target := range []domain.OrderStatus{domain.StatusNew, domain.StatusCancelled} {
		rec = f.do(call{method: http.MethodPost, path: path, as: &f.admin, body: advanceRequest{Target: target}})
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "validation", decode[problem](t, rec).Code)
	}
	assert.True(t, f.mem.Stock(f.branch.ID, f.tomato.ID).Equal(num(100)), "order still holds its stock")
}

func TestNoopTransitions_HideForeignOrders(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["id"]
	advance := fmt.Sprintf("/orders/%v/advance", id)
	cancel := fmt.Sprintf("/orders/%v/cancel", id)

	rec = f.do(call{method: http.MethodPost, path: advance, as: &f.barista, body: advanceRequest{Target: domain.StatusInProgress}})
	require.Equal(t, http.StatusOK, rec.Code)

	// repeating the current status must not leak the order to a stranger
	rec = f.do(call{method: http.MethodPost, path: advance, as: &f.other, body: advanceRequest{Target: domain.StatusInProgress}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "total_price")

	rec = f.do(call{method: http.MethodPost, path: cancel, as: &f.barista})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(call{method: http.MethodPost, path: cancel, as: &f.other})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "cancelled")

	rec = f.do(call{method: http.MethodPost, path: cancel, as: &f.client})
	assert.Equal(t, http.StatusOK, rec.Code, "the owner still gets the no-op answer")
}

func TestAdmit_HiddenItemIsNotFound(t *testing.T) {
	f := setup(t)
	hidden := f.pizza
	hidden.IsAvailable = false
	f.mem.AddItem(hidden, domain.Composition{IngredientID: f.tomato.ID, Quantity: num(100)})
	f.srv.Catalog.Invalidate()

	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	assert.Equal(t, "not_found", decode[problem](t, rec).Code)
	assert.True(t, f.mem.Stock(f.branch.ID, f.tomato.ID).Equal(num(200)))
}

func TestCancel_RestoresStock(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(2)})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["id"]

	rec = f.do(call{method: http.MethodPost, path: fmt.Sprintf("/orders/%v/cancel", id), as: &f.client})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[map[string]any](t, rec)["status"])
	assert.True(t, f.mem.Stock(f.branch.ID, f.tomato.ID).Equal(num(200)))

	rec = f.do(call{method: http.MethodGet, path: "/me/orders?status=cancelled", as: &f.client})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = f.do(call{method: http.MethodGet, path: "/me/orders?status=nope", as: &f.client})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBranchRoutes_StaffOnly(t *testing.T) {
	f := setup(t)
	table := 2
	body := f.pizzaOrder(1)
	body["table_number"] = table
	require.Equal(t, http.StatusCreated, f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: body}).Code)

	base := fmt.Sprintf("/branches/%d", f.branch.ID)
	for _, p := range []string{"/orders", "/tables", "/notifications", "/stock/below-minimal"} {
		rec := f.do(call{method: http.MethodGet, path: base + p, as: &f.client})
		assert.Equal(t, http.StatusForbidden, rec.Code, p)
		rec = f.do(call{method: http.MethodGet, path: base + p, as: &f.barista})
		assert.Equal(t, http.StatusOK, rec.Code, p)
	}

	tables := decode[[]domain.TableOccupancy](t, f.do(call{method: http.MethodGet, path: base + "/tables", as: &f.barista}))
	require.Len(t, tables, 1)
	assert.Equal(t, table, tables[0].TableNumber)

	again := f.do(call{method: http.MethodPost, path: "/orders", as: &f.other, body: body})
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "table_occupied", decode[problem](t, again).Code)
}

func TestBranchNotifications_ReadAndDelete(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusCreated, f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)}).Code)

	base := fmt.Sprintf("/branches/%d/notifications", f.branch.ID)
	notes := decode[[]domain.BranchNotification](t, f.do(call{method: http.MethodGet, path: base + "?unread=true", as: &f.barista}))
	require.Len(t, notes, 1)
	nid := notes[0].ID

	rec := f.do(call{method: http.MethodPost, path: fmt.Sprintf("%s/%d/read", base, nid), as: &f.barista})
	require.Equal(t, http.StatusNoContent, rec.Code)
	notes = decode[[]domain.BranchNotification](t, f.do(call{method: http.MethodGet, path: base + "?unread=true", as: &f.barista}))
	assert.Empty(t, notes)

	rec = f.do(call{method: http.MethodDelete, path: fmt.Sprintf("%s/%d", base, nid), as: &f.barista})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(call{method: http.MethodDelete, path: fmt.Sprintf("%s/%d", base, nid), as: &f.barista})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClientNotifications(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[map[string]any](t, rec)["id"]
	require.Equal(t, http.StatusOK, f.do(call{method: http.MethodPost, path: fmt.Sprintf("/orders/%v/cancel", id), as: &f.client}).Code)

	notes := decode[[]domain.ClientNotification](t, f.do(call{method: http.MethodGet, path: "/me/notifications", as: &f.client}))
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Title, "cancelled")

	rec = f.do(call{method: http.MethodDelete, path: fmt.Sprintf("/me/notifications/%d", notes[0].ID), as: &f.other})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(call{method: http.MethodDelete, path: fmt.Sprintf("/me/notifications/%d", notes[0].ID), as: &f.client})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestReceiveStock_AdminOnly(t *testing.T) {
	f := setup(t)
	path := fmt.Sprintf("/branches/%d/stock/receipts", f.branch.ID)
	body := order.ReceiveRequest{Receipts: []stock.Receipt{{Ref: domain.IngredientRef(f.tomato.ID), Quantity: num(1), Unit: domain.UnitKilogram}}}

	assert.Equal(t, http.StatusForbidden, f.do(call{method: http.MethodPost, path: path, as: &f.barista, body: body}).Code)

	rec := f.do(call{method: http.MethodPost, path: path, as: &f.admin, body: body})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, f.mem.Stock(f.branch.ID, f.tomato.ID).Equal(num(1200)))
}

func TestReplaceComposition(t *testing.T) {
	f := setup(t)
	path := fmt.Sprintf("/catalog/items/%d/composition", f.pizza.ID)
	body := compositionRequest{Components: []domain.Composition{{IngredientID: f.tomato.ID, Quantity: num(250)}}}

	assert.Equal(t, http.StatusForbidden, f.do(call{method: http.MethodPut, path: path, as: &f.barista, body: body}).Code)
	require.Equal(t, http.StatusOK, f.do(call{method: http.MethodPut, path: path, as: &f.admin, body: body}).Code)

	m := decode[availability.Menu](t, f.do(call{method: http.MethodGet, path: fmt.Sprintf("/menu?branchId=%d", f.branch.ID)}))
	assert.Empty(t, m.Items, "250 tomato needed, 200 on hand")

	bad := compositionRequest{Components: []domain.Composition{{IngredientID: f.tomato.ID, Quantity: num(0)}}}
	assert.Equal(t, http.StatusBadRequest, f.do(call{method: http.MethodPut, path: path, as: &f.admin, body: bad}).Code)
}

func TestRefresh(t *testing.T) {
	f := setup(t)
	toks, err := f.auth.IssueTokens(context.Background(), f.client.ID)
	require.NoError(t, err)

	rec := f.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: toks.Refresh}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[map[string]any](t, rec)["access_token"])

	rec = f.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: toks.Access}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func wsURL(srv *httptest.Server, path, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?access_token=" + token
}

func readFrame(t *testing.T, ws *websocket.Conn, skipHeartbeats bool) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var raw map[string]json.RawMessage
		require.NoError(t, ws.ReadJSON(&raw))
		var fr frame
		require.NoError(t, json.Unmarshal(raw["type"], &fr.Type))
		if fr.Type == "heartbeat" && skipHeartbeats {
			continue
		}
		if v, ok := raw["seq"]; ok {
			require.NoError(t, json.Unmarshal(v, &fr.Seq))
		}
		fr.Payload = raw["payload"]
		return fr
	}
}

func TestBranchStream_DeliversAndAcks(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(f.srv.Handler())
	t.Cleanup(srv.Close)
	path := fmt.Sprintf("/streams/branch/%d", f.branch.ID)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, path, f.token(f.client)), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, path, f.token(f.barista)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	assert.Equal(t, "heartbeat", readFrame(t, ws, false).Type)

	require.Equal(t, http.StatusCreated, f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)}).Code)
	fr := readFrame(t, ws, true)
	assert.Equal(t, string(domain.EventOrderCreated), fr.Type)
	assert.EqualValues(t, 1, fr.Seq)

	require.NoError(t, ws.WriteJSON(clientFrame{Type: "ack", Cursor: 1}))
	key := domain.BranchChannel(f.branch.ID)
	sub := fmt.Sprintf("user-%d", f.barista.ID)
	assert.Eventually(t, func() bool {
		c, ok, err := f.mem.GetCursor(context.Background(), sub, key)
		return err == nil && ok && c == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ws.WriteJSON(clientFrame{Type: "ack", Cursor: 9}))
	fr = readFrame(t, ws, true)
	assert.Equal(t, "error", fr.Type)
}

func TestUserStream_ResumesFromCursor(t *testing.T) {
	f := setup(t)
	rec := f.do(call{method: http.MethodPost, path: "/orders", as: &f.client, body: f.pizzaOrder(1)})
	require.Equal(t, http.StatusCreated, rec.Code)

	srv := httptest.NewServer(f.srv.Handler())
	t.Cleanup(srv.Close)
	path := fmt.Sprintf("/streams/user/%d", f.client.ID)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, path, f.token(f.other)), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, path, f.token(f.client))+"&cursor=0", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	fr := readFrame(t, ws, true)
	assert.Equal(t, string(domain.EventOrderCreated), fr.Type)
	assert.EqualValues(t, 1, fr.Seq)
}
