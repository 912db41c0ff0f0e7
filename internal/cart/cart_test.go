package cart

import (
	"math"
	"testing"

	"github.com/mmeshcher/storefront-system/internal/model"
)

func product(id string, price float64, stock int) *model.Product {
	return &model.Product{
		ID:      id,
		Name:    "product " + id,
		Price:   &price,
		Stock:   &stock,
		InStock: stock > 0,
	}
}

func totalOf(c model.Cart) float64 {
	var sum float64
	for _, item := range c.Items {
		sum += float64(item.Quantity) * item.Product.PriceValue()
	}
	return sum
}

func assertTotalConsistent(t *testing.T, c model.Cart) {
	t.Helper()
	want := totalOf(c)
	if diff := math.Abs(c.Total - want); diff > 1e-6*math.Abs(want)+1e-9 {
		t.Fatalf("total = %v, items sum to %v", c.Total, want)
	}
}

func TestAdd_NewAndIncrement(t *testing.T) {
	s := NewStore()
	p := product("1", 10, 5)

	s.Add(p)
	s.Add(p)

	snap := s.Snapshot()
	if len(snap.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(snap.Items))
	}
	if snap.Items[0].Quantity != 2 {
		t.Fatalf("quantity = %d, want 2", snap.Items[0].Quantity)
	}
	if snap.Total != 20 {
		t.Fatalf("total = %v, want 20", snap.Total)
	}
	assertTotalConsistent(t, snap)
}

func TestAdd_StockClamp(t *testing.T) {
	s := NewStore()
	p := product("1", 10, 2)

	s.Add(p)
	s.Add(p)
	s.Add(p) // превышает остаток, отбрасывается

	snap := s.Snapshot()
	if len(snap.Items) != 1 || snap.Items[0].Quantity != 2 {
		t.Fatalf("cart = %+v, want single item with quantity 2", snap.Items)
	}
	if snap.Total != 20 {
		t.Fatalf("total = %v, want 20", snap.Total)
	}
}

func TestAdd_Rejections(t *testing.T) {
	zero := 0
	price := 10.0

	tests := []struct {
		name string
		p    *model.Product
	}{
		{"nil product", nil},
		{"missing id", &model.Product{Price: &price, InStock: true}},
		{"zero stock", &model.Product{ID: "1", Price: &price, Stock: &zero}},
		{"stock absent and not in stock", &model.Product{ID: "1", Price: &price, InStock: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			s.Add(tt.p)

			snap := s.Snapshot()
			if len(snap.Items) != 0 || snap.Total != 0 {
				t.Fatalf("cart changed: %+v total %v", snap.Items, snap.Total)
			}
		})
	}
}

func TestAdd_AbsentStockInStock(t *testing.T) {
	s := NewStore()
	price := 5.0
	p := &model.Product{ID: "1", Price: &price, InStock: true}

	// Без известного остатка верхняя граница не проверяется
	for i := 0; i < 10; i++ {
		s.Add(p)
	}

	snap := s.Snapshot()
	if snap.Items[0].Quantity != 10 {
		t.Fatalf("quantity = %d, want 10", snap.Items[0].Quantity)
	}
	if snap.Total != 50 {
		t.Fatalf("total = %v, want 50", snap.Total)
	}
}

func TestAdd_AbsentPriceTreatedAsZero(t *testing.T) {
	s := NewStore()
	stock := 3
	p := &model.Product{ID: "1", Stock: &stock, InStock: true}

	s.Add(p)

	snap := s.Snapshot()
	if snap.Total != 0 {
		t.Fatalf("total = %v, want 0", snap.Total)
	}
	if len(snap.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(snap.Items))
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	a := product("a", 10, 5)
	b := product("b", 3, 5)

	s.Add(a)
	s.Add(a)
	s.Add(b)
	s.Remove(a)

	snap := s.Snapshot()
	if len(snap.Items) != 1 || snap.Items[0].Product.ID != "b" {
		t.Fatalf("cart = %+v, want only product b", snap.Items)
	}
	if snap.Total != 3 {
		t.Fatalf("total = %v, want 3", snap.Total)
	}

	// Удаление отсутствующего товара ничего не меняет
	s.Remove(a)
	snap = s.Snapshot()
	if len(snap.Items) != 1 || snap.Total != 3 {
		t.Fatalf("cart changed on removing absent item: %+v", snap)
	}
}

func TestUpdateQuantity(t *testing.T) {
	s := NewStore()
	p := product("1", 10, 5)
	s.Add(p)

	s.UpdateQuantity(p, 4)
	snap := s.Snapshot()
	if snap.Items[0].Quantity != 4 || snap.Total != 40 {
		t.Fatalf("quantity = %d total = %v, want 4 and 40", snap.Items[0].Quantity, snap.Total)
	}

	// Значение ниже единицы приводится к единице
	s.UpdateQuantity(p, 0)
	snap = s.Snapshot()
	if snap.Items[0].Quantity != 1 || snap.Total != 10 {
		t.Fatalf("quantity = %d total = %v, want 1 and 10", snap.Items[0].Quantity, snap.Total)
	}

	// Превышение остатка отклоняется без побочных эффектов
	s.UpdateQuantity(p, 6)
	snap = s.Snapshot()
	if snap.Items[0].Quantity != 1 || snap.Total != 10 {
		t.Fatalf("quantity = %d total = %v, want unchanged 1 and 10", snap.Items[0].Quantity, snap.Total)
	}
	assertTotalConsistent(t, snap)
}

func TestClear(t *testing.T) {
	s := NewStore()
	s.Add(product("1", 10, 5))
	s.Clear()

	snap := s.Snapshot()
	if len(snap.Items) != 0 || snap.Total != 0 {
		t.Fatalf("cart not empty after clear: %+v", snap)
	}
}

func TestTotalConsistentAfterMutationSequence(t *testing.T) {
	s := NewStore()
	a := product("a", 19.99, 100)
	b := product("b", 0.07, 100)

	for i := 0; i < 50; i++ {
		s.Add(a)
		s.Add(b)
	}
	s.UpdateQuantity(a, 7)
	s.Remove(b)
	s.Add(b)
	s.UpdateQuantity(b, 33)

	assertTotalConsistent(t, s.Snapshot())
}
