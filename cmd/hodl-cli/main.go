package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hodl/api"
	"hodl/config"
	"hodl/export"
	"hodl/ledger"
	"hodl/loan"
	"hodl/observability/logging"
	"hodl/observability/otel"
	"hodl/snapshot"
	"hodl/wallet"
)

var configPath = defaultConfigPath() // Defaults to ./config.toml, can be overridden via HODL_CONFIG or --config flag
var rpcOverride string

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if rpcOverride != "" {
		cfg.RPCURL = rpcOverride
	}

	var fileCfg *logging.FileConfig
	if cfg.Log.Path != "" {
		fileCfg = &logging.FileConfig{
			Path:       cfg.Log.Path,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	logger := logging.Setup("hodl-cli", cfg.Telemetry.Environment, fileCfg)

	ctx := context.Background()
	if cfg.Telemetry.Endpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "hodl-cli",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	contract := ledger.Contract{Address: cfg.ContractAddress, Name: cfg.ContractName}
	client, err := ledger.NewClient(ledger.Config{
		RPCURL:         cfg.RPCURL,
		RESTURL:        cfg.RESTURL,
		Contract:       contract,
		AuthToken:      os.Getenv("HODL_RPC_TOKEN"),
		Timeout:        cfg.RequestTimeoutDuration(),
		ReadsPerSecond: float64(cfg.ReadsPerSecond),
		ReadBurst:      cfg.ReadBurst,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building ledger client: %v\n", err)
		os.Exit(1)
	}

	app := &cliApp{cfg: cfg, client: client, contract: contract, logger: logger}

	command := args[0]
	switch command {
	case "connect":
		app.connect(ctx)
	case "disconnect":
		app.disconnect(ctx)
	case "status":
		app.status(ctx)
	case "dashboard":
		app.dashboard(ctx)
	case "loans":
		app.loans(ctx)
	case "loan":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a loan id.")
			printUsage()
			return
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		app.loan(ctx, id)
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a principal.")
			printUsage()
			return
		}
		app.balance(ctx, args[1])
	case "create":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a loan amount in micro-units.")
			printUsage()
			return
		}
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid amount.")
			return
		}
		app.create(ctx, amount)
	case "accept":
		if len(args) < 4 {
			fmt.Println("Error: Please provide a loan id, BTC address and sats amount.")
			printUsage()
			return
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		sats, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid sats amount.")
			return
		}
		app.accept(ctx, id, args[2], sats)
	case "liquidate":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a loan id.")
			printUsage()
			return
		}
		id, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid loan id.")
			return
		}
		app.liquidate(ctx, id)
	case "set-price":
		if len(args) < 2 {
			fmt.Println("Error: Please provide a price in whole USD.")
			printUsage()
			return
		}
		price, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			fmt.Println("Error: Invalid price.")
			return
		}
		app.setPrice(ctx, price)
	case "export":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an output path.")
			printUsage()
			return
		}
		format := "csv"
		if len(args) >= 3 {
			format = strings.TrimPrefix(args[2], "--format=")
		}
		app.export(ctx, args[1], format)
	case "serve":
		app.serve(ctx)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

type cliApp struct {
	cfg      *config.Config
	client   *ledger.Client
	contract ledger.Contract
	logger   *slog.Logger
}

// openWallet builds the session manager over the persistent store. Callers own
// the returned manager and must Close it.
func (a *cliApp) openWallet(ctx context.Context) (*wallet.Manager, error) {
	store, err := wallet.OpenBoltStore(a.cfg.SessionDBPath)
	if err != nil {
		return nil, err
	}
	agent, err := wallet.NewHTTPAgent(a.cfg.AgentURL, "hodl")
	if err != nil {
		store.Close()
		return nil, err
	}
	m := wallet.NewManager(store, agent, a.contract, nil)
	if err := m.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}

func (a *cliApp) connect(ctx context.Context) {
	m, err := a.openWallet(ctx)
	if err != nil {
		fmt.Printf("Error opening wallet: %v\n", err)
		return
	}
	defer m.Close()

	fmt.Println("Waiting for wallet approval...")
	sess, err := m.Connect(ctx)
	if err != nil {
		fmt.Printf("Sign-in failed: %v\n", err)
		return
	}
	fmt.Printf("Signed in as %s\n", sess.Principal)
}

func (a *cliApp) disconnect(ctx context.Context) {
	m, err := a.openWallet(ctx)
	if err != nil {
		fmt.Printf("Error opening wallet: %v\n", err)
		return
	}
	defer m.Close()

	if err := m.Disconnect(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Signed out.")
}

func (a *cliApp) status(ctx context.Context) {
	m, err := a.openWallet(ctx)
	if err != nil {
		fmt.Printf("Error opening wallet: %v\n", err)
		return
	}
	defer m.Close()

	fmt.Printf("Session state: %s\n", m.State())
	if sess, ok := m.Session(); ok {
		fmt.Printf("Principal:     %s\n", sess.Principal)
	}
}

func (a *cliApp) fetchSnapshot(ctx context.Context) (*snapshot.Snapshot, bool) {
	ctrl := snapshot.NewController(a.client, nil)
	snap, err := ctrl.Fetch(ctx)
	if err != nil {
		fmt.Printf("Error fetching loan book: %v\n", err)
		return nil, false
	}
	return snap, true
}

func (a *cliApp) dashboard(ctx context.Context) {
	snap, ok := a.fetchSnapshot(ctx)
	if !ok {
		return
	}
	var open, accepted, repaid, liquidatable int
	for _, l := range snap.Loans {
		switch l.Status {
		case loan.StatusOpen:
			open++
		case loan.StatusAccepted:
			accepted++
			if loan.Liquidatable(l, snap.PriceUSD) {
				liquidatable++
			}
		case loan.StatusRepaid:
			repaid++
		}
	}
	fmt.Printf("BTC price:      $%d\n", snap.PriceUSD)
	fmt.Printf("Loans:          %d total\n", len(snap.Loans))
	fmt.Printf("  open:         %d\n", open)
	fmt.Printf("  accepted:     %d (%d below liquidation threshold)\n", accepted, liquidatable)
	fmt.Printf("  repaid:       %d\n", repaid)
	fmt.Printf("Taken at:       %s\n", snap.TakenAt.Format(time.RFC3339))
}

func (a *cliApp) loans(ctx context.Context) {
	snap, ok := a.fetchSnapshot(ctx)
	if !ok {
		return
	}
	fmt.Printf("%-5s %-12s %-14s %-12s %s\n", "ID", "STATUS", "AMOUNT", "RATIO", "BORROWER")
	for _, l := range snap.Loans {
		ratio := "-"
		if l.HasCollateral() {
			ratio = fmt.Sprintf("%.1f%%", loan.CollateralRatio(l, snap.PriceUSD))
		}
		borrower := l.Borrower
		if borrower == "" {
			borrower = "-"
		}
		fmt.Printf("%-5d %-12s %-14d %-12s %s\n", l.ID, l.Status, l.LoanAmountMicro, ratio, borrower)
	}
}

func (a *cliApp) loan(ctx context.Context, id uint64) {
	rec, ok := a.client.GetLoan(ctx, id)
	if !ok {
		fmt.Printf("Loan %d not found.\n", id)
		return
	}
	price := a.client.GetBTCPrice(ctx)
	l := loan.FromRecord(rec, time.Now())
	fmt.Printf("Loan %d\n", l.ID)
	fmt.Printf("  status:       %s\n", l.Status)
	fmt.Printf("  lender:       %s\n", l.Lender)
	if l.HasBorrower() {
		fmt.Printf("  borrower:     %s\n", l.Borrower)
	}
	fmt.Printf("  amount:       %d micro-units\n", l.LoanAmountMicro)
	if l.HasCollateral() {
		fmt.Printf("  collateral:   %d sats at %s\n", l.BTCAmountSats, l.BTCAddress)
		fmt.Printf("  ratio:        %.1f%% at $%d\n", loan.CollateralRatio(l, price), price)
		fmt.Printf("  liquidatable: %v\n", loan.Liquidatable(l, price))
	}
}

func (a *cliApp) balance(ctx context.Context, principal string) {
	fmt.Printf("Balance: %d micro-units\n", a.client.GetBalance(ctx, principal))
}

func (a *cliApp) signAndReport(ctx context.Context, run func(*wallet.Manager) (string, error)) {
	m, err := a.openWallet(ctx)
	if err != nil {
		fmt.Printf("Error opening wallet: %v\n", err)
		return
	}
	defer m.Close()

	fmt.Println("Waiting for wallet approval...")
	txID, err := run(m)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Submitted: %s\n", txID)
}

func (a *cliApp) create(ctx context.Context, amountMicro uint64) {
	a.signAndReport(ctx, func(m *wallet.Manager) (string, error) {
		return m.CreateLoan(ctx, amountMicro)
	})
}

func (a *cliApp) accept(ctx context.Context, id uint64, btcAddress string, sats uint64) {
	a.signAndReport(ctx, func(m *wallet.Manager) (string, error) {
		return m.AcceptLoan(ctx, id, btcAddress, sats)
	})
}

func (a *cliApp) liquidate(ctx context.Context, id uint64) {
	a.signAndReport(ctx, func(m *wallet.Manager) (string, error) {
		return m.LiquidateLoan(ctx, id)
	})
}

func (a *cliApp) setPrice(ctx context.Context, price uint64) {
	a.signAndReport(ctx, func(m *wallet.Manager) (string, error) {
		return m.SetPrice(ctx, price)
	})
}

func (a *cliApp) export(ctx context.Context, path, format string) {
	snap, ok := a.fetchSnapshot(ctx)
	if !ok {
		return
	}
	switch format {
	case "csv":
		data, checksum, err := export.LoansCSV(snap)
		if err == nil {
			err = os.WriteFile(path, data, 0o644)
		}
		if err != nil {
			fmt.Printf("Error exporting CSV: %v\n", err)
			return
		}
		fmt.Printf("Wrote %d loans to %s (sha256 %s)\n", len(snap.Loans), path, checksum)
	case "jsonl":
		data, checksum, err := export.LoansJSONL(snap)
		if err == nil {
			err = os.WriteFile(path, data, 0o644)
		}
		if err != nil {
			fmt.Printf("Error exporting JSONL: %v\n", err)
			return
		}
		fmt.Printf("Wrote %d loans to %s (sha256 %s)\n", len(snap.Loans), path, checksum)
	case "parquet":
		if err := export.LoansParquet(path, snap); err != nil {
			fmt.Printf("Error exporting Parquet: %v\n", err)
			return
		}
		fmt.Printf("Wrote %d loans to %s\n", len(snap.Loans), path)
	default:
		fmt.Printf("Unknown export format %q (want csv, jsonl or parquet).\n", format)
	}
}

func (a *cliApp) serve(ctx context.Context) {
	ctrl := snapshot.NewController(a.client, nil)
	if _, err := ctrl.Refetch(ctx); err != nil {
		// Serve anyway; the API reports the failure with a retry affordance.
		a.logger.Warn("initial snapshot fetch failed", "error", err)
	}

	server := &http.Server{
		Addr:              a.cfg.ListenAddress,
		Handler:           api.NewServer(ctrl, a.client, nil).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Serving loan API on %s\n", a.cfg.ListenAddress)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := strings.TrimSpace(os.Getenv("HODL_CONFIG")); v != "" {
		return v
	}
	return "./config.toml"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --config")
			}
			configPath = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
			continue
		}
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcOverride = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcOverride = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func printUsage() {
	fmt.Println("Usage: hodl-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Global flags: --config <path> (or HODL_CONFIG), --rpc <url>")
	fmt.Println("Commands:")
	fmt.Println("  connect                            - Signs in through the wallet agent")
	fmt.Println("  disconnect                         - Clears the stored session")
	fmt.Println("  status                             - Shows the session state")
	fmt.Println("  dashboard                          - Summarizes the loan book")
	fmt.Println("  loans                              - Lists every loan with risk columns")
	fmt.Println("  loan <id>                          - Shows a single loan")
	fmt.Println("  balance <principal>                - Reads an account balance")
	fmt.Println("  create <amount_micro>              - Offers a new loan (requires sign-in)")
	fmt.Println("  accept <id> <btc_address> <sats>   - Accepts a loan with collateral (requires sign-in)")
	fmt.Println("  liquidate <id>                     - Liquidates an undercollateralized loan (requires sign-in)")
	fmt.Println("  set-price <usd>                    - Overrides the oracle price (requires sign-in)")
	fmt.Println("  export <path> [--format=csv|jsonl|parquet] - Exports the loan book")
	fmt.Println("  serve                              - Serves the read-side HTTP API")
}
