package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"daybook/internal/db"
	"daybook/internal/engine"
	"daybook/internal/migrate"
	"daybook/internal/seed"
	"daybook/internal/store"
)

const (
	testJWTSecret     = "test-secret"
	testAdminPassword = "admin-password"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(store.New(conn))
	if _, err := seed.Apply(context.Background(), e.Store, "admin", testAdminPassword); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{JWTSecret: testJWTSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func login(t *testing.T, srv *testServer, username, password string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/login", map[string]any{
		"username": username,
		"password": password,
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var body struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if !body.Success || body.Token == "" {
		t.Fatalf("login failed: %s", string(data))
	}
	return body.Token
}

// createUser provisions a user through the admin API and returns its id and
// a bearer token for it.
func createUser(t *testing.T, srv *testServer, adminToken, username string) (string, string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/users", map[string]any{
		"username":  username,
		"firstName": "Test",
		"lastName":  "User",
		"password":  username + "-password",
	}, adminToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create user status %d: %s", res.StatusCode, string(data))
	}
	var user map[string]any
	if err := json.Unmarshal(data, &user); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}
	id, _ := user["id"].(string)
	if id == "" {
		t.Fatalf("expected user id, got %s", string(data))
	}
	return id, login(t, srv, username, username+"-password")
}

func TestLoginAndCurrentUser(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	// wrong password is a soft failure, not a 401
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/login", map[string]any{
		"username": "admin", "password": "wrong",
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", res.StatusCode)
	}
	var failed struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(data, &failed); err != nil || failed.Success {
		t.Fatalf("expected success=false, got %s", string(data))
	}

	token := login(t, srv, "admin", testAdminPassword)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/currentUser", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("currentUser status %d: %s", res.StatusCode, string(data))
	}
	var user map[string]any
	if err := json.Unmarshal(data, &user); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if user["username"] != "admin" {
		t.Fatalf("unexpected user: %s", string(data))
	}
	if _, ok := user["passwordHash"]; ok {
		t.Fatalf("password hash leaked: %s", string(data))
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	if len(data) != 0 {
		t.Fatalf("401 body must be empty, got %q", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events", nil, "not-a-token")
	if res.StatusCode != http.StatusUnauthorized || len(data) != 0 {
		t.Fatalf("expected empty 401 for a bad token, got %d %q", res.StatusCode, string(data))
	}

	// health and the release history stay open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/versions", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("versions status %d", res.StatusCode)
	}
	var releases []map[string]any
	if err := json.Unmarshal(data, &releases); err != nil || len(releases) == 0 {
		t.Fatalf("expected release history, got %s", string(data))
	}
}

func TestResourceCRUD(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token := login(t, srv, "admin", testAdminPassword)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/projects", map[string]any{
		"name": "Garden", "status": "active",
	}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var project map[string]any
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	id, _ := project["id"].(string)
	if id == "" {
		t.Fatalf("expected assigned id: %s", string(data))
	}

	// validation failure carries the reason envelope
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/projects", map[string]any{
		"status": "active",
	}, token)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	var failure struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &failure); err != nil || failure.Reason != "Name is required" {
		t.Fatalf("expected reason envelope, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/projects/"+id, map[string]any{
		"name": "Garden", "status": "done",
	}, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/projects/"+id, nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &project); err != nil || project["status"] != "done" {
		t.Fatalf("expected updated project, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/projects/ghost", nil, token)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}

	// stages ride the same generic surface
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/stages", map[string]any{
		"name": "Planning",
	}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create stage: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/stages", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list stages: %d", res.StatusCode)
	}
	var stages []map[string]any
	if err := json.Unmarshal(data, &stages); err != nil || len(stages) != 1 {
		t.Fatalf("expected one stage, got %s", string(data))
	}
}

func TestListFilterCannotWidenScope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	adminToken := login(t, srv, "admin", testAdminPassword)
	aliceID, aliceToken := createUser(t, srv, adminToken, "alice")
	_, bobToken := createUser(t, srv, adminToken, "bob")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/timesheets", map[string]any{
		"beginDate": "2024-05-01",
	}, aliceToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create timesheet: %d %s", res.StatusCode, string(data))
	}

	// a query filter on the owner field must not widen what bob can see
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/timesheets?userRid="+aliceID, nil, bobToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", res.StatusCode)
	}
	var sheets []map[string]any
	if err := json.Unmarshal(data, &sheets); err != nil {
		t.Fatal(err)
	}
	if len(sheets) != 0 {
		t.Fatalf("owner-field filter leaked another user's timesheets: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/timesheets?userRid="+aliceID, nil, aliceToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &sheets); err != nil || len(sheets) != 1 {
		t.Fatalf("expected the owner's timesheet, got %s", string(data))
	}
}

func TestEventVisibilityAcrossUsers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	adminToken := login(t, srv, "admin", testAdminPassword)
	_, aliceToken := createUser(t, srv, adminToken, "alice")
	_, bobToken := createUser(t, srv, adminToken, "bob")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/events", map[string]any{
		"title": "dentist", "category": "Appointment", "start": "2024-05-01", "private": true,
	}, aliceToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create private event: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/events", map[string]any{
		"title": "block party", "category": "Holiday", "start": "2024-06-01",
	}, aliceToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create public event: %d %s", res.StatusCode, string(data))
	}
	var public map[string]any
	if err := json.Unmarshal(data, &public); err != nil {
		t.Fatal(err)
	}
	publicID, _ := public["id"].(string)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/events", nil, bobToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", res.StatusCode)
	}
	var events []map[string]any
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0]["title"] != "block party" {
		t.Fatalf("expected only the public event, got %s", string(data))
	}

	// visible but not yours: mutation is forbidden rather than hidden
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/events/"+publicID, map[string]any{
		"title": "hijacked", "category": "Holiday", "start": "2024-06-01",
	}, bobToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/events/"+publicID, nil, bobToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 delete, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAccountDeleteCascades(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token := login(t, srv, "admin", testAdminPassword)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/accounts", map[string]any{
		"name": "car loan", "amount": "9000", "balanceType": "liability",
	}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create account: %d %s", res.StatusCode, string(data))
	}
	var acct map[string]any
	if err := json.Unmarshal(data, &acct); err != nil {
		t.Fatal(err)
	}
	acctID, _ := acct["id"].(string)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/events", map[string]any{
		"eventType": "transaction", "description": "payment", "transactionDate": "2024-04-01",
		"accountRid": acctID, "principalAmount": 400.0, "interestAmount": 100.0,
	}, token)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction: %d %s", res.StatusCode, string(data))
	}

	// totals are derived on list
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/accounts", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list accounts: %d", res.StatusCode)
	}
	var accounts []map[string]any
	if err := json.Unmarshal(data, &accounts); err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected one account, got %s", string(data))
	}
	if accounts[0]["balance"] != 8600.0 {
		t.Fatalf("expected liability balance 8600, got %v", accounts[0]["balance"])
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/api/accounts/"+acctID, nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/events?accountRid="+acctID, nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list events: %d", res.StatusCode)
	}
	var remaining []map[string]any
	if err := json.Unmarshal(data, &remaining); err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected cascade to remove events, got %s", string(data))
	}
}

func TestUserEndpointsAuthorization(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	adminToken := login(t, srv, "admin", testAdminPassword)
	aliceID, aliceToken := createUser(t, srv, adminToken, "alice")
	client := srv.Client()

	// listing users is admin-only
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/users", nil, aliceToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/users", nil, adminToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin list: %d", res.StatusCode)
	}
	var users []map[string]any
	if err := json.Unmarshal(data, &users); err != nil {
		t.Fatal(err)
	}
	for _, u := range users {
		if _, ok := u["passwordHash"]; ok {
			t.Fatalf("password hash leaked in listing")
		}
	}

	// a user may read themselves but nobody else
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/users/"+aliceID, nil, aliceToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("self read: %d", res.StatusCode)
	}
	_, bobToken := createUser(t, srv, adminToken, "bob")
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/users/"+aliceID, nil, bobToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 reading another user, got %d", res.StatusCode)
	}

	// short passwords are rejected on create
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/users", map[string]any{
		"username": "carol", "firstName": "C", "lastName": "D", "password": "short",
	}, adminToken)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a short password, got %d: %s", res.StatusCode, string(data))
	}

	// non-admins cannot create users at all
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/api/users", map[string]any{
		"username": "mallory", "firstName": "M", "lastName": "E", "password": "longenough",
	}, aliceToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.StatusCode)
	}
}

func TestChangePassword(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	adminToken := login(t, srv, "admin", testAdminPassword)
	aliceID, aliceToken := createUser(t, srv, adminToken, "alice")
	client := srv.Client()

	// the old password must check out
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/users/"+aliceID+"/password", map[string]any{
		"password": "wrong", "newPassword": "new-password",
	}, aliceToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/users/"+aliceID+"/password", map[string]any{
		"password": "alice-password", "newPassword": "new-password",
	}, aliceToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("change password: %d %s", res.StatusCode, string(data))
	}
	login(t, srv, "alice", "new-password")
}

func TestTaskTimerRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	adminToken := login(t, srv, "admin", testAdminPassword)
	_, aliceToken := createUser(t, srv, adminToken, "alice")
	_, bobToken := createUser(t, srv, adminToken, "bob")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/timesheets", map[string]any{
		"beginDate": "2024-05-01",
	}, aliceToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create timesheet: %d %s", res.StatusCode, string(data))
	}
	var sheet map[string]any
	if err := json.Unmarshal(data, &sheet); err != nil {
		t.Fatal(err)
	}
	sheetID, _ := sheet["id"].(string)
	base := srv.URL + "/api/timesheets/" + sheetID + "/taskTimers"

	res, data = doJSON(t, client, http.MethodPost, base, map[string]any{
		"name": "weeding",
	}, aliceToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create timer: %d %s", res.StatusCode, string(data))
	}
	var timer map[string]any
	if err := json.Unmarshal(data, &timer); err != nil {
		t.Fatal(err)
	}
	timerID, _ := timer["id"].(string)
	if owner, _ := timer["userRid"].(string); owner == "" || timer["timesheetRid"] != sheetID {
		t.Fatalf("expected stamped references, got %s", string(data))
	}

	// the nested surface belongs to the timesheet owner
	res, _ = doJSON(t, client, http.MethodGet, base, nil, bobToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign timesheet, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodPost, base+"/"+timerID+"/start", nil, bobToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 starting a foreign timer, got %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+timerID+"/start", nil, aliceToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(data))
	}
	var started struct {
		IsActive  bool  `json:"isActive"`
		StartTime int64 `json:"startTime"`
	}
	if err := json.Unmarshal(data, &started); err != nil {
		t.Fatal(err)
	}
	if !started.IsActive || started.StartTime == 0 {
		t.Fatalf("expected running timer, got %s", string(data))
	}

	// boolean query filters match the stored JSON type
	res, data = doJSON(t, client, http.MethodPost, base, map[string]any{
		"name": "raking",
	}, aliceToken)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create second timer: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"?isActive=true", nil, aliceToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered list: %d", res.StatusCode)
	}
	var running []map[string]any
	if err := json.Unmarshal(data, &running); err != nil {
		t.Fatal(err)
	}
	if len(running) != 1 || running[0]["id"] != timerID {
		t.Fatalf("expected only the running timer, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/"+timerID+"/stop", nil, aliceToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d %s", res.StatusCode, string(data))
	}
	var stopped struct {
		IsActive  bool  `json:"isActive"`
		StartTime int64 `json:"startTime"`
	}
	if err := json.Unmarshal(data, &stopped); err != nil {
		t.Fatal(err)
	}
	if stopped.IsActive || stopped.StartTime != 0 {
		t.Fatalf("expected stopped timer, got %s", string(data))
	}

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/api/timesheets/ghost/taskTimers/"+timerID+"/start", nil, aliceToken)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown timesheet, got %d", res.StatusCode)
	}
}
