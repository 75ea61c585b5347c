package products

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"emporium/apperr"
	"emporium/filemgr"
	"emporium/middleware"
	"emporium/models"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memRepo struct {
	mu       sync.RWMutex
	products map[primitive.ObjectID]models.Product
}

func newMemRepo() *memRepo {
	return &memRepo{products: map[primitive.ObjectID]models.Product{}}
}

func (m *memRepo) Create(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	m.products[p.ID] = *p
	return nil
}

func (m *memRepo) FindByID(_ context.Context, id primitive.ObjectID) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (m *memRepo) FindByIDs(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[primitive.ObjectID]models.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memRepo) filter(keep func(models.Product) bool) []models.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Product{}
	for _, p := range m.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *memRepo) FindAll(context.Context) ([]models.Product, error) {
	return m.filter(func(models.Product) bool { return true }), nil
}

func (m *memRepo) FindBySeller(_ context.Context, seller primitive.ObjectID) ([]models.Product, error) {
	return m.filter(func(p models.Product) bool { return p.Seller == seller }), nil
}

func (m *memRepo) Search(_ context.Context, q string) ([]models.Product, error) {
	q = strings.ToLower(q)
	return m.filter(func(p models.Product) bool {
		return strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Description), q)
	}), nil
}

func (m *memRepo) Update(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return ErrProductNotFound
	}
	m.products[p.ID] = *p
	return nil
}

func (m *memRepo) Delete(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

type fakeImages struct {
	saved   int
	removed []string
}

func (f *fakeImages) SaveImage(r io.Reader, _ filemgr.EntityType) (*filemgr.Saved, error) {
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	f.saved++
	return &filemgr.Saved{Image: "/static/uploads/products/p.jpg", Thumbnail: "/static/uploads/products/thumb/p.jpg"}, nil
}

func (f *fakeImages) Remove(paths ...string) { f.removed = append(f.removed, paths...) }

type fakeUsers map[primitive.ObjectID]string

func (f fakeUsers) Summaries(_ context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.UserSummary, error) {
	out := map[primitive.ObjectID]models.UserSummary{}
	for _, id := range ids {
		if name, ok := f[id]; ok {
			out[id] = models.UserSummary{ID: id, Name: name}
		}
	}
	return out, nil
}

type fakeLinker struct {
	added, removed []primitive.ObjectID
}

func (f *fakeLinker) AddProduct(_ context.Context, _, product primitive.ObjectID) error {
	f.added = append(f.added, product)
	return nil
}

func (f *fakeLinker) RemoveProduct(_ context.Context, _, product primitive.ObjectID) error {
	f.removed = append(f.removed, product)
	return nil
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	images  *fakeImages
	linker  *fakeLinker
	sellerA models.Actor
	sellerB models.Actor
}

func newFixture() *fixture {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	f := &fixture{
		repo:    newMemRepo(),
		images:  &fakeImages{},
		linker:  &fakeLinker{},
		sellerA: models.Actor{UserID: a.Hex(), Role: models.RoleSeller},
		sellerB: models.Actor{UserID: b.Hex(), Role: models.RoleSeller},
	}
	f.svc = NewService(f.repo, f.images, fakeUsers{a: "Acme"}, f.linker)
	return f
}

func ptr[T any](v T) *T { return &v }

func validInput() Input {
	return Input{
		Name:        ptr("Coffee Mug"),
		Description: ptr("A sturdy ceramic mug"),
		Price:       ptr(12.5),
		Stock:       ptr(10),
	}
}

func TestCreate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p, err := f.svc.Create(ctx, f.sellerA, validInput(), nil)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderImage, p.Image)
	assert.Equal(t, f.sellerA.UserID, p.Seller.Hex())
	assert.Equal(t, []primitive.ObjectID{p.ID}, f.linker.added)

	p, err = f.svc.Create(ctx, f.sellerA, validInput(), strings.NewReader("img"))
	require.NoError(t, err)
	assert.Equal(t, "/static/uploads/products/p.jpg", p.Image)
	assert.Equal(t, 1, f.images.saved)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	tests := map[string]func(*Input){
		"short name":        func(in *Input) { in.Name = ptr("ab") },
		"short description": func(in *Input) { in.Description = ptr("short") },
		"zero price":        func(in *Input) { in.Price = ptr(0.0) },
		"negative stock":    func(in *Input) { in.Stock = ptr(-1) },
		"missing price":     func(in *Input) { in.Price = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			_, err := f.svc.Create(context.Background(), f.sellerA, in, nil)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestListResolvesSellerNames(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.sellerA, validInput(), nil)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.sellerB, validInput(), nil)
	require.NoError(t, err)

	views, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	named := 0
	for _, v := range views {
		if v.SellerInfo != nil {
			assert.Equal(t, "Acme", v.SellerInfo.Name)
			named++
		}
	}
	assert.Equal(t, 1, named)

	_, err = f.svc.ListBySeller(ctx, f.sellerB, f.sellerA.UserID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	mine, err := f.svc.ListBySeller(ctx, f.sellerA, f.sellerA.UserID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestSearch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.sellerA, validInput(), nil)
	require.NoError(t, err)

	found, err := f.svc.Search(ctx, "CERAMIC")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = f.svc.Search(ctx, "  ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUpdateAndDelete_Ownership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p, err := f.svc.Create(ctx, f.sellerA, validInput(), strings.NewReader("img"))
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.sellerB, p.ID.Hex(), Input{Price: ptr(1.0)}, nil)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	updated, err := f.svc.Update(ctx, f.sellerA, p.ID.Hex(), Input{Price: ptr(9.99)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 9.99, updated.Price)
	assert.Equal(t, "Coffee Mug", updated.Name)

	admin := models.Actor{UserID: primitive.NewObjectID().Hex(), Role: models.RoleAdmin}
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(f.svc.Delete(ctx, f.sellerB, p.ID.Hex())))
	require.NoError(t, f.svc.Delete(ctx, admin, p.ID.Hex()))
	assert.Contains(t, f.images.removed, "/static/uploads/products/p.jpg")
	assert.Equal(t, []primitive.ObjectID{p.ID}, f.linker.removed)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(f.svc.Delete(ctx, admin, p.ID.Hex())))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(f.svc.Delete(ctx, admin, "zzz")))
}

func TestCreateProductHandler_Multipart(t *testing.T) {
	f := newFixture()

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "Desk Lamp"))
	require.NoError(t, mw.WriteField("description", "Warm light for late nights"))
	require.NoError(t, mw.WriteField("price", "24.00"))
	require.NoError(t, mw.WriteField("stock", "3"))
	fw, err := mw.CreateFormFile("photo", "lamp.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/products", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{UserID: f.sellerA.UserID, Role: models.RoleSeller}))
	rr := httptest.NewRecorder()

	NewHandler(f.svc).CreateProduct(rr, req, httprouter.Params{})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"name":"Desk Lamp"`)
	assert.Equal(t, 1, f.images.saved)
}
