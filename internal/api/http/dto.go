package http

import (
	"regexp"
	"time"

	"github.com/ehsan-hn/SmsHub/internal/sms/domain"
)

var receiverPattern = regexp.MustCompile(`^\+?\d{9,15}$`)

const maxContentLength = 480

type chargeRequest struct {
	UserID int64 `json:"user_id"`
	Amount int64 `json:"amount"`
}

type chargeResponse struct {
	UserID       int64 `json:"user_id"`
	TotalBalance int64 `json:"total_balance"`
}

type balanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

type transactionResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	SMSID     *int64    `json:"sms_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type sendSMSRequest struct {
	UserID    int64  `json:"user_id"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	IsExpress bool   `json:"is_express"`
}

func (r *sendSMSRequest) validate() string {
	switch {
	case r.UserID <= 0:
		return "user_id is required"
	case !receiverPattern.MatchString(r.Receiver):
		return "receiver must be a phone number of 9 to 15 digits"
	case r.Content == "":
		return "content is required"
	case len([]rune(r.Content)) > maxContentLength:
		return "content exceeds the maximum length"
	}
	return ""
}

type sendSMSResponse struct {
	SMSID  int64  `json:"sms_id"`
	TaskID string `json:"task_id"`
}

type smsResponse struct {
	ID           int64      `json:"id"`
	MessageID    *int64     `json:"message_id,omitempty"`
	UserID       int64      `json:"user_id"`
	Status       string     `json:"status"`
	Sender       string     `json:"sender"`
	Receiver     string     `json:"receiver"`
	Content      string     `json:"content"`
	Cost         int64      `json:"cost"`
	IsExpress    bool       `json:"is_express"`
	AttemptsNum  int        `json:"attempts_num"`
	ServiceError string     `json:"service_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ModifiedAt   time.Time  `json:"modified_at"`
	LastAttempt  *time.Time `json:"last_attempt_at,omitempty"`
}

func toSMSResponse(sms *domain.SMS) smsResponse {
	return smsResponse{
		ID:           sms.ID,
		MessageID:    sms.MessageID,
		UserID:       sms.UserID,
		Status:       string(sms.Status),
		Sender:       sms.Sender,
		Receiver:     sms.Receiver,
		Content:      sms.Content,
		Cost:         sms.Cost,
		IsExpress:    sms.IsExpress,
		AttemptsNum:  sms.AttemptsNum,
		ServiceError: sms.ServiceError,
		CreatedAt:    sms.CreatedAt,
		ModifiedAt:   sms.ModifiedAt,
		LastAttempt:  sms.LastAttemptAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}
