// Package transform maps storefront orders onto the carrier's shipment schema.
package transform

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"shiprelay/internal/apperr"
	"shiprelay/internal/config"
	"shiprelay/internal/model"
)

// Placeholders for fields the storefront may omit.
const (
	DefaultCustomerName = "Customer"
	DefaultSKU          = "SKU-DEFAULT"
	DefaultPhone        = "9999999999"
	DefaultCity         = "NA"
	DefaultState        = "NA"
	DefaultCountry      = "India"
	DefaultAddress      = "NA"
	DefaultItemName     = "Item"
)

const orderDateLayout = "2006-01-02 15:04"

// Transformer is a pure mapping over the order and the configured defaults.
type Transformer struct {
	Defaults config.Defaults
}

func New(d config.Defaults) *Transformer {
	return &Transformer{Defaults: d}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate rejects orders that must never reach the carrier.
func Validate(o model.Order) error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Validation(err.Error())
	}
	switch fe := verrs[0]; fe.Field() {
	case "id":
		return apperr.Validation("order id is required")
	case "line_items":
		return apperr.Validation("order has no line items")
	default:
		return apperr.Validation(fe.Namespace() + " failed " + fe.Tag())
	}
}

// Transform builds the shipment request for o enriched with coords. receivedAt
// stands in for the order date when the order carries no created_at.
func (t *Transformer) Transform(o model.Order, coords model.Coordinates, receivedAt time.Time) (model.ShipmentRequest, error) {
	if err := Validate(o); err != nil {
		return model.ShipmentRequest{}, err
	}
	var addr model.Address
	if o.BillingAddress != nil {
		addr = *o.BillingAddress
	}
	if coords.Lat == "" || coords.Lng == "" {
		coords = model.SentinelCoordinates
	}

	items := make([]model.ShipmentItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		units := li.Quantity
		if units <= 0 {
			units = 1
		}
		items = append(items, model.ShipmentItem{
			Name:         firstNonEmpty(li.Name, DefaultItemName),
			SKU:          firstNonEmpty(li.SKU, DefaultSKU),
			Units:        units,
			SellingPrice: firstNonEmpty(li.Price, "0"),
			HSN:          t.Defaults.HSN,
			Category:     t.Defaults.Category,
		})
	}

	return model.ShipmentRequest{
		OrderID:             strconv.FormatInt(o.ID, 10),
		OrderDate:           orderDate(o.CreatedAt, receivedAt),
		PickupLocation:      t.Defaults.PickupLocation,
		Comment:             Comment(o.NoteAttributes),
		BillingCustomerName: firstNonEmpty(addr.FirstName, DefaultCustomerName),
		BillingLastName:     addr.LastName,
		BillingAddress:      firstNonEmpty(addr.Address1, DefaultAddress),
		BillingAddress2:     addr.Address2,
		BillingCity:         firstNonEmpty(addr.City, DefaultCity),
		BillingPincode:      addr.Zip,
		BillingState:        firstNonEmpty(addr.Province, DefaultState),
		BillingCountry:      firstNonEmpty(addr.Country, DefaultCountry),
		BillingEmail:        firstNonEmpty(o.Email, customerField(o, func(c *model.Customer) string { return c.Email })),
		BillingPhone:        phone(o, addr),
		ShippingIsBilling:   true,
		OrderItems:          items,
		PaymentMethod:       PaymentMethod(o.FinancialStatus),
		SubTotal:            subtotal(o),
		Length:              t.Defaults.Length,
		Breadth:             t.Defaults.Breadth,
		Height:              t.Defaults.Height,
		Weight:              t.Defaults.Weight,
		Latitude:            coords.Lat,
		Longitude:           coords.Lng,
	}, nil
}

// PaymentMethod is Prepaid for paid orders and COD for everything else.
func PaymentMethod(financialStatus string) string {
	if strings.EqualFold(strings.TrimSpace(financialStatus), "paid") {
		return model.PaymentPrepaid
	}
	return model.PaymentCOD
}

// Comment joins delivery-note attributes as "key: value; key: value" in source order.
func Comment(attrs []model.NoteAttribute) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		name, value := strings.TrimSpace(a.Name), strings.TrimSpace(a.Value)
		if name == "" && value == "" {
			continue
		}
		if name == "" {
			parts = append(parts, value)
			continue
		}
		parts = append(parts, name+": "+value)
	}
	return strings.Join(parts, "; ")
}

func orderDate(createdAt string, receivedAt time.Time) string {
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		return ts.Format(orderDateLayout)
	}
	return receivedAt.Format(orderDateLayout)
}

func phone(o model.Order, addr model.Address) string {
	return firstNonEmpty(addr.Phone, o.Phone, customerField(o, func(c *model.Customer) string { return c.Phone }), DefaultPhone)
}

func customerField(o model.Order, f func(*model.Customer) string) string {
	if o.Customer == nil {
		return ""
	}
	return f(o.Customer)
}

// subtotal prefers the storefront's figure and otherwise sums price*quantity.
func subtotal(o model.Order) string {
	if s := strings.TrimSpace(o.SubtotalPrice); s != "" {
		return s
	}
	var sum float64
	for _, li := range o.LineItems {
		p, err := strconv.ParseFloat(li.Price, 64)
		if err != nil {
			continue
		}
		q := li.Quantity
		if q <= 0 {
			q = 1
		}
		sum += p * float64(q)
	}
	return strconv.FormatFloat(sum, 'f', 2, 64)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
