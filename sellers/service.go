package sellers

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"emporium/apperr"
	"emporium/models"
	"emporium/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ProductLookup interface {
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error)
}

type Service struct {
	repo     Repository
	products ProductLookup
	now      func() time.Time
}

func NewService(repo Repository, products ProductLookup) *Service {
	return &Service{repo: repo, products: products, now: time.Now}
}

type Input struct {
	Name string `json:"name"`
	// UserID links the seller record to the seller's account. Optional.
	UserID string `json:"userId,omitempty"`
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 3 || n > 50 {
		return "", apperr.Validation("Name must be between 3 and 50 characters")
	}
	return name, nil
}

func (s *Service) Create(ctx context.Context, in Input) (*models.Seller, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	seller := &models.Seller{Name: name, Products: []primitive.ObjectID{}, CreatedAt: s.now()}
	if in.UserID != "" {
		if seller.ID, err = utils.ParseObjectID(in.UserID, "user id"); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Create(ctx, seller); err != nil {
		if errors.Is(err, ErrSellerExists) {
			return nil, apperr.Validation("Seller already exists")
		}
		return nil, apperr.Internal("Failed to create seller", err)
	}
	return seller, nil
}

// List returns every seller with its products resolved. Products that no
// longer exist are skipped.
func (s *Service) List(ctx context.Context) ([]models.SellerView, error) {
	sellers, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to list sellers", err)
	}
	var ids []primitive.ObjectID
	for _, sl := range sellers {
		ids = append(ids, sl.Products...)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("Failed to load products", err)
	}

	views := make([]models.SellerView, 0, len(sellers))
	for _, sl := range sellers {
		v := models.SellerView{ID: sl.ID, Name: sl.Name, Products: []models.Product{}}
		for _, pid := range sl.Products {
			if p, ok := products[pid]; ok {
				v.Products = append(v.Products, p)
			}
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) owned(ctx context.Context, actor models.Actor, rawID string) (*models.Seller, error) {
	id, err := utils.ParseObjectID(rawID, "seller id")
	if err != nil {
		return nil, err
	}
	seller, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSellerNotFound) {
			return nil, apperr.NotFound("Seller not found")
		}
		return nil, apperr.Internal("Failed to load seller", err)
	}
	if !actor.CanAccess(seller.ID.Hex()) {
		return nil, apperr.Forbidden("Access denied")
	}
	return seller, nil
}

func (s *Service) Update(ctx context.Context, actor models.Actor, rawID string, in Input) (*models.Seller, error) {
	seller, err := s.owned(ctx, actor, rawID)
	if err != nil {
		return nil, err
	}
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Rename(ctx, seller.ID, name); err != nil {
		switch {
		case errors.Is(err, ErrSellerExists):
			return nil, apperr.Validation("Seller already exists")
		case errors.Is(err, ErrSellerNotFound):
			return nil, apperr.NotFound("Seller not found")
		}
		return nil, apperr.Internal("Failed to update seller", err)
	}
	seller.Name = name
	return seller, nil
}

func (s *Service) Delete(ctx context.Context, actor models.Actor, rawID string) error {
	seller, err := s.owned(ctx, actor, rawID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, seller.ID); err != nil {
		if errors.Is(err, ErrSellerNotFound) {
			return apperr.NotFound("Seller not found")
		}
		return apperr.Internal("Failed to delete seller", err)
	}
	return nil
}
