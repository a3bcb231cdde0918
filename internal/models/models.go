package models

import (
	"github.com/shopspring/decimal"
)

// TourPriceInput - входные данные тура
type TourPriceInput struct {
	StartTime string           `json:"start_time" validate:"required,timeofday"`
	Price     *decimal.Decimal `json:"price" validate:"required"`
}

func (in *TourPriceInput) TourPrice() TourPrice {
	return TourPrice{StartTime: in.StartTime, Price: *in.Price}
}

// ImageInput is either a reference to an image already attached to the
// facility (Key set, Data empty) or a new upload (Data set).
type ImageInput struct {
	Key         string `json:"key,omitempty"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"data,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

func (in ImageInput) IsUpload() bool {
	return len(in.Data) > 0
}

// FacilityDraft - модель для создания объекта
type FacilityDraft struct {
	Name             string           `json:"name" validate:"required"`
	Description      string           `json:"description" validate:"required"`
	Amenities        []string         `json:"amenities"`
	DayTour          *TourPriceInput  `json:"day_tour" validate:"required"`
	NightTour        *TourPriceInput  `json:"night_tour" validate:"required"`
	ChildEntranceFee *decimal.Decimal `json:"child_entrance_fee" validate:"required"`
	AdultEntranceFee *decimal.Decimal `json:"adult_entrance_fee" validate:"required"`
	Images           []ImageInput     `json:"images" validate:"min=1,max=3,dive"`
}

// FacilityPatch - частичное обновление объекта; nil означает "не менять"
type FacilityPatch struct {
	Name             *string          `json:"name,omitempty" validate:"omitempty,min=1"`
	Description      *string          `json:"description,omitempty" validate:"omitempty,min=1"`
	Amenities        *[]string        `json:"amenities,omitempty"`
	DayTour          *TourPriceInput  `json:"day_tour,omitempty"`
	NightTour        *TourPriceInput  `json:"night_tour,omitempty"`
	ChildEntranceFee *decimal.Decimal `json:"child_entrance_fee,omitempty"`
	AdultEntranceFee *decimal.Decimal `json:"adult_entrance_fee,omitempty"`
	Images           *[]ImageInput    `json:"images,omitempty" validate:"omitempty,min=1,max=3,dive"`
}

// CreateBookingRequest - модель для создания бронирования
type CreateBookingRequest struct {
	FacilityID string   `json:"facility_id" validate:"required"`
	TourType   TourType `json:"tour_type" validate:"required,oneof=DAY NIGHT"`
	Date       string   `json:"date" validate:"required,datetime=2006-01-02"`
}

type RejectBookingRequest struct {
	Reason string `json:"reason"`
}

type SetAvailabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

type RegisterAffiliateRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
}

type RenameAffiliateRequest struct {
	DisplayName string `json:"display_name" validate:"required"`
}

type SearchFacilitiesRequest struct {
	Query    string `form:"q"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

// ListBookingsResponse - ответ со списком бронирований
type ListBookingsResponse struct {
	Bookings []*Booking `json:"bookings"`
}

type ListFacilitiesResponse struct {
	Facilities []*Facility `json:"facilities"`
}

type ListAuditResponse struct {
	Entries []*AuditEntry `json:"entries"`
}

type VerifyCountersResponse struct {
	Consistent bool               `json:"consistent"`
	Stored     *AggregateCounters `json:"stored"`
	Expected   *AggregateCounters `json:"expected"`
}

// ErrorResponse - тело ответа с ошибкой
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Entity string `json:"entity,omitempty"`
	Field  string `json:"field,omitempty"`
}

type ConfirmPaymentRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
}
