package cart

import (
	"context"
	"errors"
	"fmt"

	"emporium/apperr"
	"emporium/models"
	"emporium/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxQuantity bounds a single cart line, merged duplicates included.
const MaxQuantity = 1000

type ProductLookup interface {
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error)
}

type Service struct {
	repo     Repository
	products ProductLookup
}

func NewService(repo Repository, products ProductLookup) *Service {
	return &Service{repo: repo, products: products}
}

// ItemInput is one requested cart line.
type ItemInput struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
}

// lines validates the requested items and checks that every product exists.
// Repeated products are merged.
func (s *Service) lines(ctx context.Context, in []ItemInput) ([]models.LineItem, error) {
	if len(in) == 0 {
		return nil, apperr.Validation("At least one product is required")
	}
	var items []models.LineItem
	index := map[primitive.ObjectID]int{}
	for i, it := range in {
		id, err := utils.ParseObjectID(it.Product, fmt.Sprintf("product id at position %d", i))
		if err != nil {
			return nil, err
		}
		if it.Quantity < 1 {
			return nil, apperr.Validation("Quantity must be at least 1")
		}
		if it.Quantity > MaxQuantity {
			return nil, apperr.Validation(fmt.Sprintf("Quantity must be at most %d", MaxQuantity))
		}
		if j, ok := index[id]; ok {
			if items[j].Quantity > MaxQuantity-it.Quantity {
				return nil, apperr.Validation(fmt.Sprintf("Quantity must be at most %d", MaxQuantity))
			}
			items[j].Quantity += it.Quantity
			continue
		}
		index[id] = len(items)
		items = append(items, models.LineItem{Product: id, Quantity: it.Quantity})
	}

	ids := make([]primitive.ObjectID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Product)
	}
	found, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal("Failed to load products", err)
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, apperr.Validation("Product not found: " + id.Hex())
		}
	}
	return items, nil
}

// Save creates the caller's cart or replaces its items.
func (s *Service) Save(ctx context.Context, actor models.Actor, in []ItemInput) (*models.Cart, error) {
	user, err := utils.ParseObjectID(actor.UserID, "user id")
	if err != nil {
		return nil, err
	}
	items, err := s.lines(ctx, in)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.Upsert(ctx, user, items)
	if err != nil {
		return nil, apperr.Internal("Failed to save cart", err)
	}
	return c, nil
}

// Update replaces the items of a cart owned by the actor (or any cart for admins).
func (s *Service) Update(ctx context.Context, actor models.Actor, rawCartID string, in []ItemInput) (*models.Cart, error) {
	id, err := utils.ParseObjectID(rawCartID, "cart id")
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, apperr.NotFound("Cart not found")
		}
		return nil, apperr.Internal("Failed to load cart", err)
	}
	if !actor.CanAccess(existing.User.Hex()) {
		return nil, apperr.Forbidden("Access denied")
	}
	items, err := s.lines(ctx, in)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.ReplaceItems(ctx, id, items)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, apperr.NotFound("Cart not found")
		}
		return nil, apperr.Internal("Failed to update cart", err)
	}
	return c, nil
}

// Get returns the user's cart with products resolved.
func (s *Service) Get(ctx context.Context, actor models.Actor, rawUserID string) (*models.CartView, error) {
	user, err := utils.ParseObjectID(rawUserID, "user id")
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(rawUserID) {
		return nil, apperr.Forbidden("Access denied")
	}
	c, err := s.repo.FindByUser(ctx, user)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return nil, apperr.NotFound("Cart not found")
		}
		return nil, apperr.Internal("Failed to load cart", err)
	}
	lines, err := Resolve(ctx, s.products, c.Products)
	if err != nil {
		return nil, apperr.Internal("Failed to load products", err)
	}
	return &models.CartView{ID: c.ID, User: c.User, Products: lines}, nil
}

// Resolve replaces product references with product records. A reference to a
// product that no longer exists resolves to a nil Product.
func Resolve(ctx context.Context, products ProductLookup, items []models.LineItem) ([]models.ResolvedLine, error) {
	ids := make([]primitive.ObjectID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Product)
	}
	found, err := products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	lines := make([]models.ResolvedLine, 0, len(items))
	for _, it := range items {
		line := models.ResolvedLine{ProductID: it.Product, Quantity: it.Quantity}
		if p, ok := found[it.Product]; ok {
			line.Product = &p
		}
		lines = append(lines, line)
	}
	return lines, nil
}
