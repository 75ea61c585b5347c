package products

import (
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"emporium/apperr"
	"emporium/filemgr"
	"emporium/utils"

	"github.com/julienschmidt/httprouter"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// parseInput accepts either a JSON body or a multipart form with an optional
// "photo" file. The returned closer must be called when the photo is consumed.
func parseInput(w http.ResponseWriter, r *http.Request) (Input, io.Reader, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var in Input
		if err := utils.DecodeJSON(r, &in); err != nil {
			return in, nil, noop, err
		}
		return in, nil, noop, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, filemgr.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(filemgr.MaxUploadSize); err != nil {
		return Input{}, nil, noop, apperr.Wrap(apperr.KindValidation, "Invalid multipart form", err)
	}
	in, err := formInput(r.MultipartForm)
	if err != nil {
		return in, nil, noop, err
	}
	files := r.MultipartForm.File["photo"]
	if len(files) == 0 {
		return in, nil, noop, nil
	}
	f, err := files[0].Open()
	if err != nil {
		return in, nil, noop, apperr.Wrap(apperr.KindValidation, "Invalid photo", err)
	}
	return in, f, func() { f.Close() }, nil
}

func formInput(form *multipart.Form) (Input, error) {
	var in Input
	value := func(key string) (string, bool) {
		v, ok := form.Value[key]
		if !ok || len(v) == 0 {
			return "", false
		}
		return v[0], true
	}
	if v, ok := value("name"); ok {
		in.Name = &v
	}
	if v, ok := value("description"); ok {
		in.Description = &v
	}
	if v, ok := value("price"); ok {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return in, apperr.Validation("Price must be a number")
		}
		in.Price = &price
	}
	if v, ok := value("stock"); ok {
		stock, err := strconv.Atoi(v)
		if err != nil {
			return in, apperr.Validation("Stock must be an integer")
		}
		in.Stock = &stock
	}
	return in, nil
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	in, photo, closePhoto, err := parseInput(w, r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	defer closePhoto()

	p, err := h.svc.Create(r.Context(), utils.ActorFromRequest(r), in, photo)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProducts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	products, err := h.svc.List(r.Context())
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, products)
}

func (h *Handler) GetSellerProducts(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	products, err := h.svc.ListBySeller(r.Context(), utils.ActorFromRequest(r), ps.ByName("sellerId"))
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, products)
}

func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	products, err := h.svc.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, products)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	in, photo, closePhoto, err := parseInput(w, r)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	defer closePhoto()

	p, err := h.svc.Update(r.Context(), utils.ActorFromRequest(r), ps.ByName("id"), in, photo)
	if err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Product updated", "product": p})
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.svc.Delete(r.Context(), utils.ActorFromRequest(r), ps.ByName("id")); err != nil {
		utils.RespondWithError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"message": "Product deleted"})
}
