package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Client quotes fees against a GHN-compatible carrier API. Calls go through a
// circuit breaker so a degraded carrier fails checkouts fast instead of
// piling up blocked requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	shopID     string
	breaker    *gobreaker.CircuitBreaker[decimal.Decimal]
	lg         *zap.Logger
}

// NewClient creates a carrier client. baseURL is the carrier API root, token
// and shopID authenticate the merchant account; timeout bounds each request.
func NewClient(baseURL, token, shopID string, timeout time.Duration, lg *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "shipping-fee",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		token:      token,
		shopID:     shopID,
		breaker:    gobreaker.NewCircuitBreaker[decimal.Decimal](settings),
		lg:         lg,
	}
}

// feeResponse is the carrier's fee envelope.
type feeResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Total decimal.Decimal `json:"total"`
	} `json:"data"`
}

// QuoteFee requests a fee quote. Any carrier failure is a hard error: the
// fee is mandatory to compute the payable total.
func (c *Client) QuoteFee(ctx context.Context, req QuoteRequest) (decimal.Decimal, error) {
	return c.breaker.Execute(func() (decimal.Decimal, error) {
		return c.quoteOnce(ctx, req)
	})
}

func (c *Client) quoteOnce(ctx context.Context, req QuoteRequest) (decimal.Decimal, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "marshal fee request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/shiip/public-api/v2/shipping-order/fee", bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build fee request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Token", c.token)
	httpReq.Header.Set("ShopId", c.shopID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "call carrier fee API")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("carrier fee API returned status %d", resp.StatusCode)
	}

	var fee feeResponse
	if err := json.NewDecoder(resp.Body).Decode(&fee); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode fee response")
	}
	if fee.Code != 200 {
		return decimal.Zero, errors.Errorf("carrier fee API rejected request: %s", fee.Message)
	}

	c.lg.Debug("shipping fee quoted",
		zap.Int("to_district", req.ToDistrictID),
		zap.String("fee", fee.Data.Total.String()),
	)
	return fee.Data.Total, nil
}
