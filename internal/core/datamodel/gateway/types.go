package gateway

// Wire format of the tokenized checkout API. Amounts are fixed 2-decimal strings.

// StatusCodeSuccess is the gateway's business success sentinel.
const StatusCodeSuccess = "0000"

// Known business codes the state machine branches on.
const (
	StatusCodeAlreadyCompleted = "2062"
	StatusCodeSessionExpired   = "2056"
	StatusCodeInsufficientFund = "2023"
)

const (
	TransactionStatusInitiated = "Initiated"
	TransactionStatusCompleted = "Completed"
	TransactionStatusCancelled = "Cancelled"
	TransactionStatusFailed    = "Failed"
	TransactionStatusExpired   = "Expired"
)

// ErrorFields carries the alternate error envelope some endpoints answer with.
type ErrorFields struct {
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type GrantTokenRequest struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
}

type RefreshTokenRequest struct {
	AppKey       string `json:"app_key"`
	AppSecret    string `json:"app_secret"`
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	ErrorFields
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	IDToken       string `json:"id_token"`
	RefreshToken  string `json:"refresh_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int64  `json:"expires_in"`
}

type CreatePaymentRequest struct {
	Mode                  string `json:"mode"`
	PayerReference        string `json:"payerReference"`
	CallbackURL           string `json:"callbackURL"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Intent                string `json:"intent"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
}

type CreatePaymentResponse struct {
	ErrorFields
	StatusCode            string `json:"statusCode"`
	StatusMessage         string `json:"statusMessage"`
	PaymentID             string `json:"paymentID"`
	PaymentCreateTime     string `json:"paymentCreateTime"`
	TransactionStatus     string `json:"transactionStatus"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Intent                string `json:"intent"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
	CheckoutURL           string `json:"bkashURL"`
}

type PaymentIDRequest struct {
	PaymentID string `json:"paymentID"`
}

// TransactionResponse is shared by execute and status query.
type TransactionResponse struct {
	ErrorFields
	StatusCode            string `json:"statusCode"`
	StatusMessage         string `json:"statusMessage"`
	PaymentID             string `json:"paymentID"`
	TrxID                 string `json:"trxID"`
	TransactionStatus     string `json:"transactionStatus"`
	Amount                string `json:"amount"`
	Currency              string `json:"currency"`
	Intent                string `json:"intent"`
	MerchantInvoiceNumber string `json:"merchantInvoiceNumber"`
	PayerReference        string `json:"payerReference"`
	PaymentExecuteTime    string `json:"paymentExecuteTime"`
}

type RefundRequest struct {
	PaymentID string `json:"paymentID"`
	TrxID     string `json:"trxID"`
	Amount    string `json:"amount"`
	SKU       string `json:"sku"`
	Reason    string `json:"reason"`
}

type RefundResponse struct {
	ErrorFields
	StatusCode        string `json:"statusCode"`
	StatusMessage     string `json:"statusMessage"`
	OriginalTrxID     string `json:"originalTrxID"`
	RefundTrxID       string `json:"refundTrxID"`
	TransactionStatus string `json:"transactionStatus"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	CompletedTime     string `json:"completedTime"`
}
