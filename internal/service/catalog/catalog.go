package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ims/internal/domain"
)

// ProductUpdate описывает частичное изменение карточки товара.
// nil-поле означает "не трогать". Остаток через каталог не меняется:
// любые движения стока идут только через ledger, чтобы не обойти
// атомарные гарантии резервирования.
type ProductUpdate struct {
	Name     *string
	Category *domain.ProductCategory
	Price    *decimal.Decimal
	Active   *bool
}

// Catalog управляет справочником товаров: создание, правка карточки,
// вывод из ассортимента.
type Catalog struct {
	products domain.ProductRepository
	orders   domain.OrderRepository
	logger   *log.Entry
	now      func() time.Time
}

func New(products domain.ProductRepository, orders domain.OrderRepository, logger *log.Entry) *Catalog {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Catalog{
		products: products,
		orders:   orders,
		logger:   logger,
		now:      time.Now,
	}
}

// AddProduct заводит новый товар. Код нормализуется к верхнему регистру.
func (c *Catalog) AddProduct(product domain.Product) (domain.Product, error) {
	product.Code = strings.ToUpper(strings.TrimSpace(product.Code))
	product.Name = strings.TrimSpace(product.Name)
	product.Active = true

	now := c.now()
	product.CreatedAt = now
	product.UpdatedAt = now

	if errs := product.ValidateInvariants(); len(errs) > 0 {
		return domain.Product{}, fmt.Errorf("validate product %s: %w", product.Code, errors.Join(errs...))
	}

	if err := c.products.Create(product); err != nil {
		return domain.Product{}, fmt.Errorf("create product %s: %w", product.Code, err)
	}

	c.logger.WithFields(log.Fields{
		"product_code": product.Code,
		"category":     product.Category,
		"stock":        product.StockQuantity,
	}).Info("product added")

	return product, nil
}

// GetProduct возвращает карточку товара по коду.
func (c *Catalog) GetProduct(code string) (domain.Product, error) {
	return c.products.Get(strings.ToUpper(strings.TrimSpace(code)))
}

// ListProducts возвращает товары по фильтру.
func (c *Catalog) ListProducts(filter domain.ProductFilter) ([]domain.Product, error) {
	return c.products.List(filter)
}

// UpdateProduct применяет частичное обновление карточки. Поля стока в
// ProductUpdate нет намеренно.
func (c *Catalog) UpdateProduct(code string, update ProductUpdate) (domain.Product, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	product, err := c.products.Get(code)
	if err != nil {
		return domain.Product{}, err
	}

	if update.Name != nil {
		product.Name = strings.TrimSpace(*update.Name)
	}
	if update.Category != nil {
		product.Category = *update.Category
	}
	if update.Price != nil {
		product.Price = *update.Price
	}
	if update.Active != nil {
		product.Active = *update.Active
	}
	product.UpdatedAt = c.now()

	if errs := product.ValidateInvariants(); len(errs) > 0 {
		return domain.Product{}, fmt.Errorf("validate product %s: %w", code, errors.Join(errs...))
	}

	if err := c.products.Update(product); err != nil {
		return domain.Product{}, fmt.Errorf("update product %s: %w", code, err)
	}

	c.logger.WithField("product_code", code).Info("product updated")
	return product, nil
}

// DeleteProduct выводит товар из ассортимента. Мягкое удаление снимает
// флаг Active, жёсткое убирает запись целиком. Оба варианта запрещены,
// пока по товару есть незакрытые заказы: позиция заказа ссылается на код
// товара, и исчезновение карточки сломало бы возврат стока при отмене.
func (c *Catalog) DeleteProduct(code string, hard bool) error {
	code = strings.ToUpper(strings.TrimSpace(code))

	if _, err := c.products.Get(code); err != nil {
		return err
	}

	open, err := c.orders.CountOpenByProduct(code)
	if err != nil {
		return fmt.Errorf("count open orders for %s: %w", code, err)
	}
	if open > 0 {
		return fmt.Errorf("product %s has %d open orders: %w", code, open, domain.ErrProductHasOpenOrders)
	}

	if hard {
		if err := c.products.HardDelete(code); err != nil {
			return fmt.Errorf("hard delete product %s: %w", code, err)
		}
		c.logger.WithField("product_code", code).Warn("product removed permanently")
		return nil
	}

	if err := c.products.SoftDelete(code); err != nil {
		return fmt.Errorf("soft delete product %s: %w", code, err)
	}
	c.logger.WithField("product_code", code).Info("product deactivated")
	return nil
}
