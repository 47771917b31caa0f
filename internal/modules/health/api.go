package health

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"ev_scanner/internal/models"
	"ev_scanner/internal/modules/health/service"
	store "ev_scanner/internal/modules/store/service"
)

const (
	apiKeyHeader   = "x-api-key"
	minTokenLength = 10
	maxBodyBytes   = 4 << 10
)

// Scanner: то, что API нужно от сервиса сканов.
type Scanner interface {
	Run(ctx context.Context, productIDs []string) (models.ScanResult, error)
	Latest(ctx context.Context) (models.ScanResult, bool, error)
	History(ctx context.Context, n int) ([]models.ScanResult, error)
}

// Tracker отдаёт текущий набор инструментов.
type Tracker interface {
	Tracked() []string
}

type API struct {
	apiKey  string
	state   *service.State
	scanner Scanner
	tracker Tracker
	store   store.Store
	log     *zap.Logger
	limiter *RateLimiter
}

func NewAPI(apiKey string, state *service.State, sc Scanner, tr Tracker, st store.Store, log *zap.Logger) *API {
	return &API{apiKey: apiKey, state: state, scanner: sc, tracker: tr, store: st, log: log}
}

type latestResponse struct {
	Latest    *models.ScanResult `json:"latest"`
	Formatted *string            `json:"formatted"`
}

type deviceRequest struct {
	Token string `json:"token"`
}

// WithRateLimit включает лимит на все маршруты API; пробы /livez и /readyz не ограничены.
func (a *API) WithRateLimit(l *RateLimiter) *API {
	a.limiter = l
	return a
}

func (a *API) register(mux *http.ServeMux) {
	mux.Handle("GET /health", a.limited(http.HandlerFunc(a.handleHealth)))
	mux.Handle("GET /scan/latest", a.limited(http.HandlerFunc(a.handleLatest)))
	mux.Handle("GET /scan/history", a.limited(http.HandlerFunc(a.handleHistory)))
	mux.Handle("POST /scan/run", a.limited(a.requireKey(http.HandlerFunc(a.handleRun))))
	mux.Handle("POST /device/register", a.limited(a.requireKey(a.handleDevice(true))))
	mux.Handle("POST /device/unregister", a.limited(a.requireKey(a.handleDevice(false))))
}

func (a *API) limited(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return a.limiter.Middleware(next)
}

func (a *API) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(apiKeyHeader)
		if a.apiKey == "" || subtle.ConstantTimeCompare([]byte(got), []byte(a.apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.state.Snapshot())
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	res, ok, err := a.scanner.Latest(r.Context())
	if err != nil {
		a.fail(w, "load latest scan", err)
		return
	}
	out := latestResponse{}
	if ok {
		out.Latest = &res
		out.Formatted = &res.Output
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hist, err := a.scanner.History(r.Context(), n)
	if err != nil {
		a.fail(w, "load scan history", err)
		return
	}
	if hist == nil {
		hist = []models.ScanResult{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	res, err := a.scanner.Run(r.Context(), a.tracker.Tracked())
	if err != nil {
		a.fail(w, "run scan", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleDevice(add bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		var req deviceRequest
		if err == nil {
			err = sonic.Unmarshal(body, &req)
		}
		if err != nil || len(req.Token) < minTokenLength {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid token"})
			return
		}

		if add {
			err = a.store.SAdd(r.Context(), store.KeyDeviceTokens, req.Token)
		} else {
			err = a.store.SRem(r.Context(), store.KeyDeviceTokens, req.Token)
		}
		if err != nil {
			a.fail(w, "update device tokens", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	a.log.Error(op, zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
