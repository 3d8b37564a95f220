package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cardledgerv1 "github.com/MarkoPoloResearchLab/cardledger/api/cardledger/v1"
	"github.com/MarkoPoloResearchLab/cardledger/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/cardledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/cardledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/gorm"
)

const (
	bufconnSize  = 1 << 20
	operatorID   = "operator-1"
	walletUserID = "wallet-user"
)

type responseEnvelope struct {
	Card         *cardledgerv1.Card          `json:"card"`
	Wallet       *cardledgerv1.LoyaltyCard   `json:"wallet"`
	Transactions []*cardledgerv1.Transaction `json:"transactions"`
	Status       string                      `json:"status"`
	Reason       string                      `json:"reason"`
	Message      string                      `json:"message"`
	NewBalance   string                      `json:"new_balance"`
	Replayed     bool                        `json:"replayed"`
	Error        struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{
		LedgerAddress:     "bufnet",
		LedgerInsecure:    true,
		LedgerTimeout:     2 * time.Second,
		AllowedOrigins:    []string{"http://localhost:8000"},
		SessionSigningKey: "secret-key",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validation failed: %v", err)
	}
	return cfg
}

func startDashboard(t *testing.T, client cardledgerv1.CardLedgerServiceClient) (*httptest.Server, Config) {
	t.Helper()
	cfg := testConfig(t)
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		t.Fatalf("validator init failed: %v", err)
	}
	router := setupRouter(cfg, newHTTPHandler(cfg, zap.NewNop(), client), validator)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, cfg
}

func startLedgerClient(t *testing.T) cardledgerv1.CardLedgerServiceClient {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(t.TempDir()+"/ledger.db?_pragma=busy_timeout(5000)"), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open failed: %v", err)
	}
	sqlDatabase, err := database.DB()
	if err != nil {
		t.Fatalf("sql handle failed: %v", err)
	}
	sqlDatabase.SetMaxOpenConns(1)
	if err := database.AutoMigrate(gormstore.Models()...); err != nil {
		t.Fatalf("automigrate failed: %v", err)
	}
	store := gormstore.New(database)
	clock := func() int64 { return time.Now().UTC().Unix() }
	cards, err := ledger.NewCardManager(store, clock)
	if err != nil {
		t.Fatalf("card manager init failed: %v", err)
	}
	payments, err := ledger.NewPaymentProcessor(store, clock)
	if err != nil {
		t.Fatalf("payment processor init failed: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer()
	cardledgerv1.RegisterCardLedgerServiceServer(grpcServer, grpcserver.NewCardLedgerServer(cards, payments))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			t.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("gRPC client init failed: %v", err)
	}
	conn.Connect()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := waitForClientReady(waitCtx, conn); err != nil {
		t.Fatalf("gRPC client failed to connect: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
		_ = sqlDatabase.Close()
	})
	return cardledgerv1.NewCardLedgerServiceClient(conn)
}

func buildSessionCookie(t *testing.T, cfg Config, userID string) *http.Cookie {
	t.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.SessionIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.SessionSigningKey))
	if err != nil {
		t.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: cfg.SessionCookieName, Value: signed}
}

func execRequest(t *testing.T, server *httptest.Server, method, path string, cookie *http.Cookie, payload map[string]any) (int, responseEnvelope) {
	t.Helper()
	body := bytes.NewReader(nil)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	request, err := http.NewRequest(method, server.URL+path, body)
	if err != nil {
		t.Fatalf("request init failed: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	var envelope responseEnvelope
	_ = json.NewDecoder(response.Body).Decode(&envelope)
	return response.StatusCode, envelope
}

func TestDashboardCardFlow(t *testing.T) {
	server, cfg := startDashboard(t, startLedgerClient(t))
	operator := buildSessionCookie(t, cfg, operatorID)

	statusCode, issued := execRequest(t, server, http.MethodPost, "/api/cards", operator, map[string]any{
		"cardholder_id":      "holder-1",
		"type":               "virtual",
		"daily_limit":        "100",
		"monthly_limit":      "1000",
		"blocked_categories": []string{"gambling"},
	})
	if statusCode != http.StatusCreated || issued.Card == nil {
		t.Fatalf("issue card: status %d, body %+v", statusCode, issued)
	}
	if issued.Card.OperatorId != operatorID {
		t.Fatalf("expected operator %s, got %s", operatorID, issued.Card.OperatorId)
	}
	cardPath := "/api/cards/" + issued.Card.CardId

	statusCode, topUp := execRequest(t, server, http.MethodPost, cardPath+"/payments", operator, map[string]any{
		"amount": "150", "type": "top_up", "idempotency_key": "topup-1",
	})
	if statusCode != http.StatusOK || topUp.Status != "approved" || topUp.NewBalance != "150" {
		t.Fatalf("top up: status %d, body %+v", statusCode, topUp)
	}

	declines := []struct {
		name            string
		payload         map[string]any
		expectedMessage string
	}{
		{
			name:            "blocked category",
			payload:         map[string]any{"amount": "5", "type": "purchase", "category": "gambling"},
			expectedMessage: "blocked category",
		},
		{
			name:            "daily limit",
			payload:         map[string]any{"amount": "100.01", "type": "purchase", "category": "travel"},
			expectedMessage: "limit exceeded",
		},
	}
	for _, decline := range declines {
		t.Run(decline.name, func(t *testing.T) {
			statusCode, declined := execRequest(t, server, http.MethodPost, cardPath+"/payments", operator, decline.payload)
			if statusCode != http.StatusOK || declined.Status != "declined" || declined.Message != decline.expectedMessage {
				t.Fatalf("expected %q decline, got status %d body %+v", decline.expectedMessage, statusCode, declined)
			}
		})
	}

	statusCode, invalid := execRequest(t, server, http.MethodPost, cardPath+"/payments", operator, map[string]any{"amount": "abc", "type": "purchase"})
	if statusCode != http.StatusBadRequest || invalid.Error.Code != "invalid_request" {
		t.Fatalf("expected invalid amount rejection, got %d %+v", statusCode, invalid)
	}

	stranger := buildSessionCookie(t, cfg, "operator-2")
	statusCode, _ = execRequest(t, server, http.MethodGet, cardPath, stranger, nil)
	if statusCode != http.StatusNotFound {
		t.Fatalf("expected foreign card to be hidden, got %d", statusCode)
	}

	statusCode, history := execRequest(t, server, http.MethodGet, cardPath+"/transactions?limit=10", operator, nil)
	if statusCode != http.StatusOK || len(history.Transactions) != 1 || history.Transactions[0].Type != "top_up" {
		t.Fatalf("unexpected history: %d %+v", statusCode, history.Transactions)
	}
	statusCode, _ = execRequest(t, server, http.MethodGet, cardPath+"/transactions?limit=500", operator, nil)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected limit rejection, got %d", statusCode)
	}

	statusCode, frozen := execRequest(t, server, http.MethodPost, cardPath+"/actions", operator, map[string]any{"action": "freeze"})
	if statusCode != http.StatusOK || frozen.Card.GetStatus() != "frozen" {
		t.Fatalf("freeze: %d %+v", statusCode, frozen)
	}
	statusCode, _ = execRequest(t, server, http.MethodPost, cardPath+"/actions", operator, map[string]any{"action": "freeze"})
	if statusCode != http.StatusConflict {
		t.Fatalf("expected conflict on second freeze, got %d", statusCode)
	}
	statusCode, inactive := execRequest(t, server, http.MethodPost, cardPath+"/payments", operator, map[string]any{"amount": "1", "type": "purchase"})
	if statusCode != http.StatusOK || inactive.Message != "card not active" {
		t.Fatalf("expected inactive decline, got %d %+v", statusCode, inactive)
	}
}

func TestDashboardBookingReferenceRetryAppliesOnce(t *testing.T) {
	server, cfg := startDashboard(t, startLedgerClient(t))
	operator := buildSessionCookie(t, cfg, operatorID)

	statusCode, issued := execRequest(t, server, http.MethodPost, "/api/cards", operator, map[string]any{
		"cardholder_id": "holder-1",
		"type":          "virtual",
		"monthly_limit": "1000",
	})
	if statusCode != http.StatusCreated || issued.Card == nil {
		t.Fatalf("issue card: status %d, body %+v", statusCode, issued)
	}
	paymentsPath := "/api/cards/" + issued.Card.CardId + "/payments"
	booking := map[string]any{"amount": "50", "type": "top_up", "booking_reference": "BK-1"}

	statusCode, first := execRequest(t, server, http.MethodPost, paymentsPath, operator, booking)
	if statusCode != http.StatusOK || first.NewBalance != "50" || first.Replayed {
		t.Fatalf("first top up: %d %+v", statusCode, first)
	}
	statusCode, retried := execRequest(t, server, http.MethodPost, paymentsPath, operator, booking)
	if statusCode != http.StatusOK || retried.NewBalance != "50" || !retried.Replayed {
		t.Fatalf("retried top up: %d %+v", statusCode, retried)
	}

	unkeyed := map[string]any{"amount": "5", "type": "top_up"}
	for range 2 {
		if statusCode, _ := execRequest(t, server, http.MethodPost, paymentsPath, operator, unkeyed); statusCode != http.StatusOK {
			t.Fatalf("unkeyed top up: %d", statusCode)
		}
	}

	statusCode, history := execRequest(t, server, http.MethodGet, "/api/cards/"+issued.Card.CardId+"/transactions", operator, nil)
	if statusCode != http.StatusOK || len(history.Transactions) != 3 {
		t.Fatalf("expected one booking row and two unkeyed rows, got %d %+v", statusCode, history.Transactions)
	}
}

func TestDashboardLoyaltyFlow(t *testing.T) {
	server, cfg := startDashboard(t, startLedgerClient(t))
	owner := buildSessionCookie(t, cfg, walletUserID)

	statusCode, created := execRequest(t, server, http.MethodPost, "/api/loyalty", owner, nil)
	if statusCode != http.StatusCreated || created.Wallet == nil || created.Wallet.GetUserId() != walletUserID {
		t.Fatalf("create wallet: %d %+v", statusCode, created)
	}
	walletPath := "/api/loyalty/" + created.Wallet.CardId

	statusCode, loaded := execRequest(t, server, http.MethodGet, walletPath, owner, nil)
	if statusCode != http.StatusOK || loaded.Wallet.GetStatus() != "pending" {
		t.Fatalf("get wallet: %d %+v", statusCode, loaded)
	}

	statusCode, declined := execRequest(t, server, http.MethodPost, walletPath+"/payments", owner, map[string]any{"amount": "100", "type": "reward"})
	if statusCode != http.StatusOK || declined.Reason != "card_not_active" || declined.Message != "card not active" {
		t.Fatalf("expected inactive decline, got %d %+v", statusCode, declined)
	}

	other := buildSessionCookie(t, cfg, "someone-else")
	statusCode, _ = execRequest(t, server, http.MethodGet, walletPath, other, nil)
	if statusCode != http.StatusNotFound {
		t.Fatalf("expected foreign wallet to be hidden, got %d", statusCode)
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	server, _ := startDashboard(t, startLedgerClient(t))

	statusCode, _ := execRequest(t, server, http.MethodGet, "/healthz", nil, nil)
	if statusCode != http.StatusOK {
		t.Fatalf("expected healthz to be public, got %d", statusCode)
	}
	statusCode, _ = execRequest(t, server, http.MethodGet, "/api/session", nil, nil)
	if statusCode < http.StatusBadRequest {
		t.Fatalf("expected session endpoint to reject anonymous requests, got %d", statusCode)
	}
}

type unavailableLedger struct {
	cardledgerv1.CardLedgerServiceClient
	card *cardledgerv1.Card
	err  error
}

func (ledgerClient *unavailableLedger) GetCard(context.Context, *cardledgerv1.GetCardRequest, ...grpc.CallOption) (*cardledgerv1.Card, error) {
	return ledgerClient.card, nil
}

func (ledgerClient *unavailableLedger) ProcessPayment(context.Context, *cardledgerv1.ProcessPaymentRequest, ...grpc.CallOption) (*cardledgerv1.ProcessPaymentResponse, error) {
	return nil, ledgerClient.err
}

func TestDashboardHidesSystemErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{name: "unavailable", err: status.Error(codes.Unavailable, "temporarily_unavailable")},
		{name: "aborted", err: status.Error(codes.Aborted, "concurrent_modification")},
		{name: "internal", err: status.Error(codes.Internal, "disk on fire")},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			client := &unavailableLedger{
				card: &cardledgerv1.Card{CardId: "card-1", OperatorId: operatorID, Status: "active"},
				err:  testCase.err,
			}
			server, cfg := startDashboard(t, client)
			cookie := buildSessionCookie(t, cfg, operatorID)
			statusCode, envelope := execRequest(t, server, http.MethodPost, "/api/cards/card-1/payments", cookie, map[string]any{"amount": "1", "type": "purchase"})
			if statusCode != http.StatusServiceUnavailable || envelope.Error.Message != retryLaterMessage {
				t.Fatalf("expected retry hint, got %d %+v", statusCode, envelope)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{SessionSigningKey: "key"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr || cfg.LedgerAddress != defaultLedgerAddr || cfg.HistoryLimit != defaultHistoryLimit {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.SessionCookieName != defaultSessionCookie || cfg.LedgerTimeout != defaultLedgerTimeout {
		t.Fatalf("session defaults not applied: %+v", cfg)
	}

	missingKey := Config{}
	if err := missingKey.Validate(); err == nil {
		t.Fatalf("expected missing signing key to fail")
	}
	tooLarge := Config{SessionSigningKey: "key", HistoryLimit: maxHistoryLimit + 1}
	if err := tooLarge.Validate(); err == nil {
		t.Fatalf("expected oversized history limit to fail")
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	origins := ParseAllowedOrigins(" http://a.test, ,http://b.test ")
	if len(origins) != 2 || origins[0] != "http://a.test" || origins[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		t.Fatalf("expected empty origins")
	}
}
