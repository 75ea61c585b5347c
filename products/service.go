package products

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"emporium/apperr"
	"emporium/filemgr"
	"emporium/models"
	"emporium/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const PlaceholderImage = "https://via.placeholder.com/150"

type ImageStore interface {
	SaveImage(r io.Reader, entity filemgr.EntityType) (*filemgr.Saved, error)
	Remove(publicPaths ...string)
}

type UserLookup interface {
	Summaries(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error)
}

// SellerLinker keeps the product list on seller records in step.
type SellerLinker interface {
	AddProduct(ctx context.Context, seller, product primitive.ObjectID) error
	RemoveProduct(ctx context.Context, seller, product primitive.ObjectID) error
}

type Service struct {
	repo    Repository
	images  ImageStore
	users   UserLookup
	sellers SellerLinker
	now     func() time.Time
}

func NewService(repo Repository, images ImageStore, users UserLookup, sellers SellerLinker) *Service {
	return &Service{repo: repo, images: images, users: users, sellers: sellers, now: time.Now}
}

// Input carries the writable product fields. Nil fields are left unchanged
// on update.
type Input struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Stock       *int     `json:"stock"`
}

func (in Input) apply(p *models.Product) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if n := utf8.RuneCountInString(name); n < 3 || n > 50 {
			return apperr.Validation("Name must be between 3 and 50 characters")
		}
		p.Name = name
	}
	if in.Description != nil {
		desc := strings.TrimSpace(*in.Description)
		if n := utf8.RuneCountInString(desc); n < 10 || n > 500 {
			return apperr.Validation("Description must be between 10 and 500 characters")
		}
		p.Description = desc
	}
	if in.Price != nil {
		if *in.Price <= 0 {
			return apperr.Validation("Price must be positive")
		}
		p.Price = *in.Price
	}
	if in.Stock != nil {
		if *in.Stock < 0 {
			return apperr.Validation("Stock cannot be negative")
		}
		p.Stock = *in.Stock
	}
	return nil
}

func (s *Service) storeImage(photo io.Reader) (*filemgr.Saved, error) {
	saved, err := s.images.SaveImage(photo, filemgr.EntityProduct)
	if err != nil {
		if errors.Is(err, filemgr.ErrInvalidMIME) || errors.Is(err, filemgr.ErrFileTooLarge) {
			return nil, apperr.Wrap(apperr.KindValidation, "Invalid photo", err)
		}
		return nil, apperr.Wrap(apperr.KindValidation, "Could not process photo", err)
	}
	return saved, nil
}

// Create adds a product owned by the calling seller. photo may be nil.
func (s *Service) Create(ctx context.Context, actor models.Actor, in Input, photo io.Reader) (*models.Product, error) {
	sellerID, err := utils.ParseObjectID(actor.UserID, "seller id")
	if err != nil {
		return nil, err
	}
	if in.Name == nil || in.Description == nil || in.Price == nil {
		return nil, apperr.Validation("Name, description and price are required")
	}
	now := s.now()
	p := &models.Product{
		Image:     PlaceholderImage,
		Seller:    sellerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.apply(p); err != nil {
		return nil, err
	}

	if photo != nil {
		saved, err := s.storeImage(photo)
		if err != nil {
			return nil, err
		}
		p.Image, p.Thumbnail = saved.Image, saved.Thumbnail
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.images.Remove(p.Image, p.Thumbnail)
		return nil, apperr.Internal("Failed to create product", err)
	}
	if err := s.sellers.AddProduct(ctx, sellerID, p.ID); err != nil {
		log.Printf("link product %s to seller %s: %v", p.ID.Hex(), sellerID.Hex(), err)
	}
	return p, nil
}

func (s *Service) withSellers(ctx context.Context, products []models.Product) ([]models.ProductView, error) {
	ids := make([]primitive.ObjectID, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.Seller)
	}
	names, err := s.users.Summaries(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("Failed to load sellers", err)
	}
	views := make([]models.ProductView, 0, len(products))
	for _, p := range products {
		v := models.ProductView{Product: p}
		if sum, ok := names[p.Seller]; ok {
			v.SellerInfo = &sum
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) List(ctx context.Context) ([]models.ProductView, error) {
	products, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, apperr.Internal("Failed to list products", err)
	}
	return s.withSellers(ctx, products)
}

func (s *Service) ListBySeller(ctx context.Context, actor models.Actor, rawSellerID string) ([]models.ProductView, error) {
	sellerID, err := utils.ParseObjectID(rawSellerID, "seller id")
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(rawSellerID) {
		return nil, apperr.Forbidden("Access denied")
	}
	products, err := s.repo.FindBySeller(ctx, sellerID)
	if err != nil {
		return nil, apperr.Internal("Failed to list products", err)
	}
	return s.withSellers(ctx, products)
}

func (s *Service) Search(ctx context.Context, query string) ([]models.ProductView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("Query is required")
	}
	products, err := s.repo.Search(ctx, query)
	if err != nil {
		return nil, apperr.Internal("Failed to search products", err)
	}
	return s.withSellers(ctx, products)
}

// owned loads a product the actor may modify.
func (s *Service) owned(ctx context.Context, actor models.Actor, rawID string) (*models.Product, error) {
	id, err := utils.ParseObjectID(rawID, "product id")
	if err != nil {
		return nil, err
	}
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, apperr.NotFound("Product not found")
		}
		return nil, apperr.Internal("Failed to load product", err)
	}
	if !actor.CanAccess(p.Seller.Hex()) {
		return nil, apperr.Forbidden("Access denied")
	}
	return p, nil
}

// Update changes the given fields. A new photo replaces the stored one.
func (s *Service) Update(ctx context.Context, actor models.Actor, rawID string, in Input, photo io.Reader) (*models.Product, error) {
	p, err := s.owned(ctx, actor, rawID)
	if err != nil {
		return nil, err
	}
	if err := in.apply(p); err != nil {
		return nil, err
	}

	var old []string
	if photo != nil {
		saved, err := s.storeImage(photo)
		if err != nil {
			return nil, err
		}
		old = []string{p.Image, p.Thumbnail}
		p.Image, p.Thumbnail = saved.Image, saved.Thumbnail
	}
	p.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, p); err != nil {
		if photo != nil {
			s.images.Remove(p.Image, p.Thumbnail)
		}
		if errors.Is(err, ErrProductNotFound) {
			return nil, apperr.NotFound("Product not found")
		}
		return nil, apperr.Internal("Failed to update product", err)
	}
	s.images.Remove(old...)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, actor models.Actor, rawID string) error {
	p, err := s.owned(ctx, actor, rawID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, p.ID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return apperr.NotFound("Product not found")
		}
		return apperr.Internal("Failed to delete product", err)
	}
	s.images.Remove(p.Image, p.Thumbnail)
	if err := s.sellers.RemoveProduct(ctx, p.Seller, p.ID); err != nil {
		log.Printf("unlink product %s from seller %s: %v", p.ID.Hex(), p.Seller.Hex(), err)
	}
	return nil
}

// FindByIDs resolves product references for carts and orders.
func (s *Service) FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error) {
	return s.repo.FindByIDs(ctx, ids)
}
