package delivery

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/avelichko/dreamscribe/internal/ports"
)

type AuthHandler struct {
	auth ports.AuthService
	log  *zap.SugaredLogger
}

func NewAuthHandler(auth ports.AuthService, log *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{
		auth: auth,
		log:  log,
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	token, err := h.auth.Login(r.Context(), req.Password)
	if err != nil {
		http.Error(w, "invalid password", http.StatusUnauthorized)
		return
	}

	h.log.Infow("login success")

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
