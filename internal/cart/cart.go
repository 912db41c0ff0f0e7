// Package cart реализует корзину текущего пользователя: количество
// позиций ограничено остатком на складе, состояние привязано к
// идентичности пользователя и сбрасывается при её смене.
package cart

import (
	"sync"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// Store хранит корзину активного пользователя. Нарушения инвариантов
// отбрасываются молча: интерфейс просто отражает неизменённое состояние.
type Store struct {
	mu    sync.Mutex
	items []model.CartItem
	total float64
}

// NewStore создаёт пустую корзину.
func NewStore() *Store {
	return &Store{}
}

// Snapshot возвращает согласованную пару (позиции, сумма).
func (s *Store) Snapshot() model.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]model.CartItem, len(s.items))
	copy(items, s.items)

	return model.Cart{Items: items, Total: s.total}
}

// canHold проверяет, допускает ли товар указанное итоговое количество.
func canHold(p *model.Product, quantity int) bool {
	if p.Stock != nil {
		return quantity <= *p.Stock
	}
	return true
}

// Add добавляет товар в корзину либо увеличивает количество на единицу.
// Товар без идентификатора, отсутствующий на складе или уже набранный
// до остатка не изменяет корзину.
func (s *Store) Add(p *model.Product) {
	if p == nil || p.ID == "" {
		return
	}

	if p.Stock != nil {
		if *p.Stock == 0 {
			return
		}
	} else if !p.InStock {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Product.ID == p.ID {
			if !canHold(p, s.items[i].Quantity+1) {
				return
			}
			s.items[i].Quantity++
			s.total += p.PriceValue()
			return
		}
	}

	if !canHold(p, 1) {
		return
	}

	s.items = append(s.items, model.CartItem{Product: *p, Quantity: 1})
	s.total += p.PriceValue()
}

// Remove убирает позицию с совпадающим идентификатором товара.
func (s *Store) Remove(p *model.Product) {
	if p == nil || p.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Product.ID == p.ID {
			item := s.items[i]
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.total -= float64(item.Quantity) * item.Product.PriceValue()
			if s.total < 0 {
				s.total = 0
			}
			return
		}
	}
}

// UpdateQuantity устанавливает количество позиции. Значение приводится
// к целому не меньше единицы; превышение остатка отклоняется.
func (s *Store) UpdateQuantity(p *model.Product, n int) {
	if p == nil || p.ID == "" {
		return
	}

	if n < 1 {
		n = 1
	}

	if !canHold(p, n) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].Product.ID == p.ID {
			old := s.items[i].Quantity
			s.items[i].Quantity = n
			s.total += float64(n-old) * s.items[i].Product.PriceValue()
			if s.total < 0 {
				s.total = 0
			}
			return
		}
	}
}

// Clear опустошает корзину.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.total = 0
}
