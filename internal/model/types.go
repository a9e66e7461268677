package model

import "time"

// Order is the subset of the storefront order-creation webhook payload the relay consumes.
type Order struct {
	ID              int64           `json:"id" validate:"gt=0"`
	Name            string          `json:"name,omitempty"`
	CreatedAt       string          `json:"created_at,omitempty"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	Customer        *Customer       `json:"customer,omitempty"`
	LineItems       []LineItem      `json:"line_items" validate:"min=1"`
	SubtotalPrice   string          `json:"subtotal_price,omitempty"`
	FinancialStatus string          `json:"financial_status,omitempty"`
	NoteAttributes  []NoteAttribute `json:"note_attributes,omitempty"`
}

type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Address1  string `json:"address1,omitempty"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Province  string `json:"province,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type Customer struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type LineItem struct {
	Name     string `json:"name,omitempty"`
	SKU      string `json:"sku,omitempty"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price,omitempty"`
}

// NoteAttribute is a free-form key/value pair the shopper attached at checkout.
type NoteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Coordinates are decimal strings as the carrier expects them.
type Coordinates struct {
	Lat string `json:"lat"`
	Lng string `json:"lng"`
}

// SentinelCoordinates is used whenever a postal code cannot be resolved.
var SentinelCoordinates = Coordinates{Lat: "0.0", Lng: "0.0"}

// ShipmentRequest is the carrier's shipment-creation document.
type ShipmentRequest struct {
	OrderID             string         `json:"order_id"`
	OrderDate           string         `json:"order_date"`
	PickupLocation      string         `json:"pickup_location"`
	Comment             string         `json:"comment,omitempty"`
	BillingCustomerName string         `json:"billing_customer_name"`
	BillingLastName     string         `json:"billing_last_name"`
	BillingAddress      string         `json:"billing_address"`
	BillingAddress2     string         `json:"billing_address_2,omitempty"`
	BillingCity         string         `json:"billing_city"`
	BillingPincode      string         `json:"billing_pincode"`
	BillingState        string         `json:"billing_state"`
	BillingCountry      string         `json:"billing_country"`
	BillingEmail        string         `json:"billing_email"`
	BillingPhone        string         `json:"billing_phone"`
	ShippingIsBilling   bool           `json:"shipping_is_billing"`
	OrderItems          []ShipmentItem `json:"order_items"`
	PaymentMethod       string         `json:"payment_method"`
	SubTotal            string         `json:"sub_total"`
	Length              float64        `json:"length"`
	Breadth             float64        `json:"breadth"`
	Height              float64        `json:"height"`
	Weight              float64        `json:"weight"`
	Latitude            string         `json:"latitude"`
	Longitude           string         `json:"longitude"`
}

type ShipmentItem struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
	HSN          string `json:"hsn,omitempty"`
	Category     string `json:"category,omitempty"`
}

const (
	PaymentPrepaid = "Prepaid"
	PaymentCOD     = "COD"
)

// PendingShipment is a carrier shipment still waiting for an AWB.
type PendingShipment struct {
	ShipmentID string    `json:"shipment_id"`
	OrderID    int64     `json:"order_id"`
	CreatedAt  time.Time `json:"created_at"`
}
