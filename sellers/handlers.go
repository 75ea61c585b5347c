package sellers

import (
	"net/http"

	"emporium/utils"

	"github.com/julienschmidt/httprouter"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateSeller(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in Input
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	seller, err := h.svc.Create(r.Context(), in)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{"message": "Seller created", "seller": seller})
}

func (h *Handler) GetSellers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sellers, err := h.svc.List(r.Context())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, sellers)
}

func (h *Handler) UpdateSeller(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in Input
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	seller, err := h.svc.Update(r.Context(), utils.ActorFromRequest(r), ps.ByName("id"), in)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Seller updated", "seller": seller})
}

func (h *Handler) DeleteSeller(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.svc.Delete(r.Context(), utils.ActorFromRequest(r), ps.ByName("id")); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Seller deleted"})
}
