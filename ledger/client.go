package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"hodl/loan"
	"hodl/observability"
)

// FallbackBTCPriceUSD substitutes the oracle price when the read fails. Price
// display degrades gracefully instead of blocking the dashboard.
const FallbackBTCPriceUSD = 29000

// Config controls how the Client reaches the node's JSON-RPC endpoint and the
// indexer REST API.
type Config struct {
	RPCURL    string
	RESTURL   string
	Contract  Contract
	AuthToken string
	Timeout   time.Duration
	// ReadsPerSecond caps contract reads so snapshot fan-out cannot hammer a
	// public node. Zero selects the default.
	ReadsPerSecond float64
	ReadBurst      int
}

// Client reads contract state and builds nothing but typed requests; all
// mutation descriptors are produced by the builders in tx.go and signed
// elsewhere. The client is stateless apart from connection plumbing.
type Client struct {
	rpcURL    string
	restURL   string
	contract  Contract
	authToken string
	http      *http.Client
	limiter   *rate.Limiter
	nextID    atomic.Int64
	log       *slog.Logger
}

// NewClient constructs a Client from the provided configuration.
func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("ledger: rpc url is required")
	}
	restURL := strings.TrimRight(strings.TrimSpace(cfg.RESTURL), "/")
	contract := cfg.Contract
	if contract.Address == "" || contract.Name == "" {
		contract = DefaultContract
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := cfg.ReadsPerSecond
	if perSecond <= 0 {
		perSecond = 20
	}
	burst := cfg.ReadBurst
	if burst <= 0 {
		burst = 2 * int(perSecond)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		rpcURL:    rpcURL,
		restURL:   restURL,
		contract:  contract,
		authToken: strings.TrimSpace(cfg.AuthToken),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		log:     log.With("component", "ledger"),
	}, nil
}

// Contract returns the contract identity the client targets, for use by the
// descriptor builders.
func (c *Client) Contract() Contract { return c.contract }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if c == nil {
		return fmt.Errorf("ledger: client is nil")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	reqBody := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Client", "hodl")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call rpc: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc call failed with status %s", resp.Status)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

type callReadOnlyParams struct {
	Address   string  `json:"address"`
	Name      string  `json:"name"`
	Function  string  `json:"function"`
	Arguments []Value `json:"arguments"`
	Sender    string  `json:"sender"`
}

func (c *Client) callReadOnly(ctx context.Context, function string, args ...Value) (Value, error) {
	if args == nil {
		args = []Value{}
	}
	params := callReadOnlyParams{
		Address:   c.contract.Address,
		Name:      c.contract.Name,
		Function:  function,
		Arguments: args,
		Sender:    c.contract.Address,
	}
	var result Value
	if err := c.call(ctx, "contract_callReadOnly", []any{params}, &result); err != nil {
		return Value{}, err
	}
	return result, nil
}

// GetLoanCount reads the contract's loan counter. Loans occupy the dense id
// range 0..count-1. Failures propagate: the counter read is the one read whose
// loss makes a snapshot impossible.
func (c *Client) GetLoanCount(ctx context.Context) (uint64, error) {
	started := time.Now()
	result, err := c.callReadOnly(ctx, "get-loan-counter")
	if err != nil {
		observability.Ledger().ObserveRead("get-loan-counter", "error", time.Since(started))
		return 0, fmt.Errorf("ledger: loan counter: %w", err)
	}
	count, err := result.AsUint64()
	if err != nil {
		observability.Ledger().ObserveRead("get-loan-counter", "error", time.Since(started))
		return 0, fmt.Errorf("ledger: loan counter: %w", err)
	}
	observability.Ledger().ObserveRead("get-loan-counter", "ok", time.Since(started))
	return count, nil
}

// GetLoan reads one loan record by id. Every failure mode — transport error,
// missing record, malformed shape — collapses to absent; the caller never sees
// an error and a malformed record never reaches the state mapper.
func (c *Client) GetLoan(ctx context.Context, id uint64) (loan.Record, bool) {
	started := time.Now()
	result, err := c.callReadOnly(ctx, "get-loan", Uint(id))
	if err != nil {
		observability.Ledger().ObserveRead("get-loan", "error", time.Since(started))
		c.log.Debug("loan read failed", "id", id, "error", err)
		return loan.Record{}, false
	}
	rec, err := decodeLoanRecord(id, result)
	if err != nil {
		outcome := "absent"
		if err != errLoanAbsent {
			outcome = "malformed"
			c.log.Debug("loan record rejected", "id", id, "error", err)
		}
		observability.Ledger().ObserveRead("get-loan", outcome, time.Since(started))
		return loan.Record{}, false
	}
	observability.Ledger().ObserveRead("get-loan", "ok", time.Since(started))
	return rec, true
}

var errLoanAbsent = fmt.Errorf("ledger: no such loan")

func decodeLoanRecord(id uint64, result Value) (loan.Record, error) {
	inner, present, err := result.AsOptional()
	if err != nil {
		return loan.Record{}, err
	}
	if !present {
		return loan.Record{}, errLoanAbsent
	}
	lenderV, err := inner.Field("lender")
	if err != nil {
		return loan.Record{}, err
	}
	lender, err := lenderV.AsPrincipal()
	if err != nil {
		return loan.Record{}, err
	}
	borrowerV, err := inner.Field("borrower")
	if err != nil {
		return loan.Record{}, err
	}
	borrower, err := borrowerV.AsPrincipal()
	if err != nil {
		return loan.Record{}, err
	}
	addrV, err := inner.Field("collateral-btc-address")
	if err != nil {
		return loan.Record{}, err
	}
	addr, err := addrV.AsStringASCII()
	if err != nil {
		return loan.Record{}, err
	}
	satsV, err := inner.Field("collateral-btc-amount")
	if err != nil {
		return loan.Record{}, err
	}
	sats, err := satsV.AsUint64()
	if err != nil {
		return loan.Record{}, err
	}
	amountV, err := inner.Field("loan-amount")
	if err != nil {
		return loan.Record{}, err
	}
	amount, err := amountV.AsUint64()
	if err != nil {
		return loan.Record{}, err
	}
	statusV, err := inner.Field("status")
	if err != nil {
		return loan.Record{}, err
	}
	status, err := statusV.AsUint64()
	if err != nil {
		return loan.Record{}, err
	}
	if status > uint64(loan.CodeDefaulted) {
		return loan.Record{}, fmt.Errorf("ledger: unknown status code %d", status)
	}
	return loan.Record{
		ID:                   id,
		Lender:               lender,
		Borrower:             borrower,
		CollateralBTCAddress: addr,
		CollateralBTCSats:    sats,
		LoanAmountMicro:      amount,
		StatusCode:           loan.StatusCode(status),
	}, nil
}

// GetBTCPrice reads the oracle price in USD per whole bitcoin. Any failure
// substitutes the fixed fallback so the dashboard keeps rendering.
func (c *Client) GetBTCPrice(ctx context.Context) uint64 {
	started := time.Now()
	result, err := c.callReadOnly(ctx, "get-btc-price")
	if err != nil {
		observability.Ledger().ObserveRead("get-btc-price", "fallback", time.Since(started))
		c.log.Debug("price read failed, using fallback", "fallback", FallbackBTCPriceUSD, "error", err)
		return FallbackBTCPriceUSD
	}
	price, err := result.AsUint64()
	if err != nil || price == 0 {
		observability.Ledger().ObserveRead("get-btc-price", "fallback", time.Since(started))
		c.log.Debug("price read malformed, using fallback", "fallback", FallbackBTCPriceUSD, "error", err)
		return FallbackBTCPriceUSD
	}
	observability.Ledger().ObserveRead("get-btc-price", "ok", time.Since(started))
	return price
}

type balanceResponse struct {
	Balance json.Number `json:"balance"`
}

// GetBalance reads an account's native-token balance in micro-units from the
// indexer REST API. Failures recover to zero.
func (c *Client) GetBalance(ctx context.Context, principal string) uint64 {
	started := time.Now()
	if c.restURL == "" || strings.TrimSpace(principal) == "" {
		return 0
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0
	}
	endpoint := fmt.Sprintf("%s/extended/v1/address/%s/stx", c.restURL, url.PathEscape(principal))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0
	}
	resp, err := c.http.Do(req)
	if err != nil {
		observability.Ledger().ObserveRead("balance", "error", time.Since(started))
		c.log.Debug("balance read failed", "error", err)
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		observability.Ledger().ObserveRead("balance", "error", time.Since(started))
		return 0
	}
	var decoded balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		observability.Ledger().ObserveRead("balance", "error", time.Since(started))
		c.log.Debug("balance decode failed", "error", err)
		return 0
	}
	balance, err := decoded.Balance.Int64()
	if err != nil || balance < 0 {
		observability.Ledger().ObserveRead("balance", "error", time.Since(started))
		return 0
	}
	observability.Ledger().ObserveRead("balance", "ok", time.Since(started))
	return uint64(balance)
}
