package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/VghostS/backNotifications/internal/domain/model"
	"github.com/VghostS/backNotifications/internal/transport/http/dto"
	httperrors "github.com/VghostS/backNotifications/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeConflict(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusConflict, httperrors.APIError{Code: code, Message: message})
}

func writeBadGateway(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadGateway, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}

func purchaseResponse(rec model.PurchaseRecord) dto.PurchaseResponse {
	out := dto.PurchaseResponse{
		PurchaseID:   rec.PurchaseID,
		SubscriberID: rec.SubscriberID,
		ItemID:       rec.ItemID,
		Quantity:     rec.Quantity,
		UnitPrice:    rec.UnitPrice,
		TotalAmount:  rec.TotalAmount(),
		State:        string(rec.State),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.HasCharge() {
		out.ChargeID = *rec.ChargeID
	}
	return out
}
