package emulator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BasePath is the Identity Toolkit prefix the Admin SDK targets when
// FIREBASE_AUTH_EMULATOR_HOST is set.
const BasePath = "/identitytoolkit.googleapis.com/v1/projects/:project"

const (
	actionLookup = "/accounts:lookup"
	actionCreate = "/accounts"
	actionDelete = "/accounts:delete"
	actionUpdate = "/accounts:update"

	codeUserNotFound   = "USER_NOT_FOUND"
	codeEmailExists    = "EMAIL_EXISTS"
	codeInvalidEmail   = "INVALID_EMAIL"
	codeMissingLocalID = "MISSING_LOCAL_ID"
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnknownAction  = "UNSUPPORTED_OPERATION"
	codeInternal       = "INTERNAL_ERROR"

	opCreate = "emulator.create_account"
)

var errMissingStore = errors.New("emulator: account store dependency required")

// Store is the account storage the emulator serves.
type Store interface {
	accounts.Backend
	accounts.ProviderLinker
}

// Dependencies wires the emulator handler.
type Dependencies struct {
	Store          Store
	Logger         *zap.Logger
	AllowedOrigins []string
}

// NewHTTPHandler builds the gin router answering the Admin SDK's account calls.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		store:  deps.Store,
		logger: logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST(BasePath+"/*action", handler.dispatch)

	return router, nil
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Client-Version", "X-Goog-Api-Client"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	store  Store
	logger *zap.Logger
}

func (h *httpHandler) dispatch(c *gin.Context) {
	switch c.Param("action") {
	case actionLookup:
		h.handleLookup(c)
	case actionCreate:
		h.handleCreate(c)
	case actionDelete:
		h.handleDelete(c)
	case actionUpdate:
		h.handleUpdate(c)
	default:
		writeError(c, http.StatusNotFound, codeUnknownAction)
	}
}

type lookupRequestPayload struct {
	LocalID []string `json:"localId"`
	Email   []string `json:"email"`
}

type lookupResponsePayload struct {
	Kind  string        `json:"kind"`
	Users []userPayload `json:"users,omitempty"`
}

type userPayload struct {
	LocalID          string            `json:"localId"`
	Email            string            `json:"email,omitempty"`
	DisplayName      string            `json:"displayName,omitempty"`
	EmailVerified    bool              `json:"emailVerified"`
	Disabled         bool              `json:"disabled"`
	ProviderUserInfo []providerPayload `json:"providerUserInfo,omitempty"`
	CreatedAt        int64             `json:"createdAt,string,omitempty"`
	LastLoginAt      int64             `json:"lastLoginAt,string,omitempty"`
}

type providerPayload struct {
	ProviderID  string `json:"providerId"`
	RawID       string `json:"rawId,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// handleLookup answers with every matching account. Unknown keys are skipped;
// an empty users list is how the SDK learns that nothing matched.
func (h *httpHandler) handleLookup(c *gin.Context) {
	var request lookupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	response := lookupResponsePayload{Kind: "identitytoolkit#GetAccountInfoResponse"}
	seen := make(map[string]struct{})
	collect := func(record *accounts.UserRecord, err error) bool {
		if errors.Is(err, accounts.UserNotFound) {
			return true
		}
		if err != nil {
			h.logger.Error("account lookup failed", zap.Error(err))
			writeError(c, http.StatusInternalServerError, codeInternal)
			return false
		}
		if _, dup := seen[record.UID]; !dup {
			seen[record.UID] = struct{}{}
			response.Users = append(response.Users, toUserPayload(*record))
		}
		return true
	}

	for _, uid := range request.LocalID {
		if !collect(h.store.GetUserByUID(ctx, uid)) {
			return
		}
	}
	for _, email := range request.Email {
		if !collect(h.store.GetUserByEmail(ctx, email)) {
			return
		}
	}

	c.JSON(http.StatusOK, response)
}

type createRequestPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

type localIDResponsePayload struct {
	Kind    string `json:"kind"`
	LocalID string `json:"localId"`
}

// handleCreate registers an account. A password links the password provider,
// mirroring the hosted service.
func (h *httpHandler) handleCreate(c *gin.Context) {
	var request createRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	email, err := accounts.NormalizeEmail(opCreate, request.Email)
	if err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidEmail)
		return
	}

	ctx := c.Request.Context()
	record, err := h.store.CreateUser(ctx, accounts.NewUser{Email: email, DisplayName: request.DisplayName})
	if err != nil {
		h.writeStoreError(c, "account creation failed", err)
		return
	}
	if request.Password != "" {
		if err := h.store.LinkProvider(ctx, record.UID, "password", email); err != nil {
			h.writeStoreError(c, "password provider link failed", err)
			return
		}
	}

	h.logger.Info("emulated account created", zap.String("uid", record.UID))
	c.JSON(http.StatusOK, localIDResponsePayload{Kind: "identitytoolkit#SignupNewUserResponse", LocalID: record.UID})
}

type deleteRequestPayload struct {
	LocalID string `json:"localId"`
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	var request deleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	uid := strings.TrimSpace(request.LocalID)
	if uid == "" {
		writeError(c, http.StatusBadRequest, codeMissingLocalID)
		return
	}
	if err := h.store.DeleteUser(c.Request.Context(), uid); err != nil {
		h.writeStoreError(c, "account deletion failed", err)
		return
	}

	h.logger.Info("emulated account deleted", zap.String("uid", uid))
	c.JSON(http.StatusOK, gin.H{"kind": "identitytoolkit#DeleteAccountResponse"})
}

type updateRequestPayload struct {
	LocalID              string           `json:"localId"`
	LinkProviderUserInfo *providerPayload `json:"linkProviderUserInfo"`
}

// handleUpdate supports provider linking only; other attribute updates are
// accepted and ignored.
func (h *httpHandler) handleUpdate(c *gin.Context) {
	var request updateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, http.StatusBadRequest, codeInvalidRequest)
		return
	}
	uid := strings.TrimSpace(request.LocalID)
	if uid == "" {
		writeError(c, http.StatusBadRequest, codeMissingLocalID)
		return
	}

	ctx := c.Request.Context()
	if link := request.LinkProviderUserInfo; link != nil && strings.TrimSpace(link.ProviderID) != "" {
		if err := h.store.LinkProvider(ctx, uid, strings.TrimSpace(link.ProviderID), link.RawID); err != nil {
			h.writeStoreError(c, "provider link failed", err)
			return
		}
	} else if _, err := h.store.GetUserByUID(ctx, uid); err != nil {
		h.writeStoreError(c, "account update failed", err)
		return
	}

	c.JSON(http.StatusOK, localIDResponsePayload{Kind: "identitytoolkit#SetAccountInfoResponse", LocalID: uid})
}

func (h *httpHandler) writeStoreError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, accounts.UserNotFound):
		writeError(c, http.StatusBadRequest, codeUserNotFound)
	case errors.Is(err, accounts.ErrEmailExists):
		writeError(c, http.StatusBadRequest, codeEmailExists)
	case errors.Is(err, accounts.InvalidInput):
		writeError(c, http.StatusBadRequest, codeInvalidRequest)
	case errors.Is(err, context.Canceled):
		writeError(c, http.StatusServiceUnavailable, codeInternal)
	default:
		h.logger.Error(message, zap.Error(err))
		writeError(c, http.StatusInternalServerError, codeInternal)
	}
}

type errorBodyPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"error": errorBodyPayload{Code: status, Message: code}})
}

func toUserPayload(record accounts.UserRecord) userPayload {
	payload := userPayload{
		LocalID:       record.UID,
		Email:         record.Email,
		DisplayName:   record.DisplayName,
		EmailVerified: record.EmailVerified,
		Disabled:      record.Disabled,
	}
	if !record.CreatedAt.IsZero() {
		payload.CreatedAt = record.CreatedAt.UnixMilli()
	}
	if !record.LastLoginAt.IsZero() {
		payload.LastLoginAt = record.LastLoginAt.UnixMilli()
	}
	for _, provider := range record.ProviderData {
		payload.ProviderUserInfo = append(payload.ProviderUserInfo, providerPayload{
			ProviderID:  provider.ProviderID,
			RawID:       provider.UID,
			Email:       provider.Email,
			DisplayName: provider.DisplayName,
		})
	}
	return payload
}
