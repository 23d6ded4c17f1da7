package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// BaseCurrency is the unit every balance is stored in. Conversion only
// happens on the way out.
const BaseCurrency = "INR"

const rateCacheTTL = time.Hour

// CurrencyService converts base-unit amounts to a requested display
// currency through a third-party exchange-rate API. It is best-effort:
// any failure falls back to the unconverted base amount, since the base
// amount is always correct.
type CurrencyService struct {
	client  *http.Client
	redis   *redis.Client
	rateURL string
}

type exchangeRateResponse struct {
	Result            string             `json:"result"`
	TimeLastUpdateUTC string             `json:"time_last_update_utc"`
	TimeNextUpdateUTC string             `json:"time_next_update_utc"`
	BaseCode          string             `json:"base_code"`
	Rates             map[string]float64 `json:"rates"`
}

func NewCurrencyService(redisClient *redis.Client) *CurrencyService {
	viper.SetDefault("currency.rate_url", "https://open.er-api.com/v6/latest/"+BaseCurrency)
	viper.SetDefault("currency.timeout", 5*time.Second)

	return &CurrencyService{
		client:  &http.Client{Timeout: viper.GetDuration("currency.timeout")},
		redis:   redisClient,
		rateURL: viper.GetString("currency.rate_url"),
	}
}

// Convert returns the amount in the target currency together with the
// currency actually applied. When the rate cannot be obtained the base
// amount comes back unchanged with BaseCurrency, so degraded mode is
// visible to the caller rather than silent.
func (cs *CurrencyService) Convert(ctx context.Context, amount float64, targetCurrency string) (float64, string) {
	if targetCurrency == "" || strings.EqualFold(targetCurrency, BaseCurrency) {
		return amount, BaseCurrency
	}

	target := strings.ToUpper(targetCurrency)
	rate, err := cs.rate(ctx, target)
	if err != nil {
		log.Printf("[CURRENCY] Conversion to %s unavailable, returning base amount: %v", target, err)
		return amount, BaseCurrency
	}

	return amount * rate, target
}

func (cs *CurrencyService) rate(ctx context.Context, target string) (float64, error) {
	cacheKey := "fx:rate:" + target

	if cs.redis != nil {
		if cached, err := cs.redis.Get(ctx, cacheKey).Result(); err == nil {
			if rate, err := strconv.ParseFloat(cached, 64); err == nil {
				return rate, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cs.rateURL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := cs.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("exchange rate API returned status %d", resp.StatusCode)
	}

	var rates exchangeRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return 0, err
	}

	rate, ok := rates.Rates[target]
	if !ok {
		return 0, fmt.Errorf("no rate for currency %s", target)
	}

	if cs.redis != nil {
		if err := cs.redis.Set(ctx, cacheKey, strconv.FormatFloat(rate, 'f', -1, 64), rateCacheTTL).Err(); err != nil {
			log.Printf("[CURRENCY] Failed to cache rate for %s: %v", target, err)
		}
	}

	return rate, nil
}
