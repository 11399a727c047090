package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"tickerwatch/pkg/tickerwatch"
)

const version = "0.1.0"

var (
	freshStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	staleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	missingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	tickerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// dot renders the coloured status indicator for a colour name.
func dot(color string) string {
	switch color {
	case "green":
		return freshStyle.Render("●")
	case "yellow":
		return staleStyle.Render("●")
	default:
		return missingStyle.Render("●")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	server := flag.String("server", envOr("TICKERWATCH_URL", "http://localhost:8080"), "tickerwatch-server base URL")
	userID := flag.String("user", os.Getenv("TICKERWATCH_USER_ID"), "acting user id")
	email := flag.String("email", os.Getenv("TICKERWATCH_USER_EMAIL"), "acting user email")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tickerwatch-cli [flags] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  health                       Show tickerwatch-server health\n")
		fmt.Fprintf(os.Stderr, "  status [TICKER...]           Show data freshness per ticker\n")
		fmt.Fprintf(os.Stderr, "  master                       List the master ticker registry\n")
		fmt.Fprintf(os.Stderr, "  sync                         Reconcile the registry with watchlists\n")
		fmt.Fprintf(os.Stderr, "  refresh [TICKER...]          Re-fetch stale or missing data\n")
		fmt.Fprintf(os.Stderr, "  watchlists                   List your watchlists\n")
		fmt.Fprintf(os.Stderr, "  create NAME                  Create a watchlist\n")
		fmt.Fprintf(os.Stderr, "  stocks WATCHLIST_ID          List the tickers of a watchlist\n")
		fmt.Fprintf(os.Stderr, "  add WATCHLIST_ID TICKERS...  Add tickers to a watchlist\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	client := tickerwatch.NewClient(*server).WithUser(*userID, *email)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("tickerwatch-cli %s\n", version)
	case "health":
		err = runHealth(ctx, client)
	case "status":
		err = runStatus(ctx, client, args[1:])
	case "master":
		err = runMaster(ctx, client)
	case "sync":
		err = runSync(ctx, client)
	case "refresh":
		err = runRefresh(ctx, client, args[1:])
	case "watchlists":
		err = runWatchlists(ctx, client)
	case "create":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		err = runCreate(ctx, client, strings.Join(args[1:], " "))
	case "stocks":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		err = runStocks(ctx, client, args[1])
	case "add":
		if len(args) < 3 {
			flag.Usage()
			os.Exit(1)
		}
		err = runAdd(ctx, client, args[1], strings.Join(args[2:], " "))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func runHealth(ctx context.Context, c *tickerwatch.Client) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s  store: %s\n", h.Status, h.Store)
	return nil
}

func runStatus(ctx context.Context, c *tickerwatch.Client, tickers []string) error {
	statuses, err := c.Statuses(ctx, tickers...)
	if err != nil {
		return err
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("  %-8s %-8s %s", "TICKER", "STATUS", "LATEST")))
	for _, s := range statuses {
		latest := s.LatestDate
		if latest == "" {
			latest = dimStyle.Render("-")
		}
		fmt.Printf("%s %s %-8s %s\n", dot(s.Color), tickerStyle.Render(fmt.Sprintf("%-8s", s.Ticker)), s.Status, latest)
	}
	return nil
}

func runMaster(ctx context.Context, c *tickerwatch.Client) error {
	entries, err := c.Master(ctx)
	if err != nil {
		return err
	}
	fmt.Println(headerStyle.Render(fmt.Sprintf("  %-8s %-8s %-20s %s", "TICKER", "TYPE", "ADDED BY", "LAST UPDATED")))
	for _, e := range entries {
		updated := dimStyle.Render("never")
		if e.LastUpdated != nil {
			updated = e.LastUpdated.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%s %s %-8s %-20s %s\n", dot(e.Color), tickerStyle.Render(fmt.Sprintf("%-8s", e.Ticker)),
			e.InstrumentType, e.CreatedByEmail, updated)
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("%d tickers", len(entries))))
	return nil
}

func runSync(ctx context.Context, c *tickerwatch.Client) error {
	res, err := c.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	if len(res.Added) > 0 {
		fmt.Println(freshStyle.Render("+ " + strings.Join(res.Added, " ")))
	}
	if len(res.Removed) > 0 {
		fmt.Println(missingStyle.Render("- " + strings.Join(res.Removed, " ")))
	}
	return nil
}

func runRefresh(ctx context.Context, c *tickerwatch.Client, tickers []string) error {
	res, err := c.Refresh(ctx, tickers...)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	fmt.Println(dimStyle.Render(fmt.Sprintf("checked %d, skipped %d fresh", res.Checked, res.Skipped)))
	return nil
}

func runWatchlists(ctx context.Context, c *tickerwatch.Client) error {
	lists, err := c.Watchlists(ctx)
	if err != nil {
		return err
	}
	for _, w := range lists {
		marker := " "
		if w.IsDefault {
			marker = freshStyle.Render("*")
		}
		fmt.Printf("%s %s  %s\n", marker, tickerStyle.Render(w.Name), dimStyle.Render(w.ID))
	}
	return nil
}

func runCreate(ctx context.Context, c *tickerwatch.Client, name string) error {
	w, err := c.CreateWatchlist(ctx, name)
	if err != nil {
		return err
	}
	fmt.Printf("created %s  %s\n", tickerStyle.Render(w.Name), dimStyle.Render(w.ID))
	return nil
}

func runStocks(ctx context.Context, c *tickerwatch.Client, watchlistID string) error {
	stocks, err := c.Stocks(ctx, watchlistID)
	if err != nil {
		return err
	}
	tickers := make([]string, len(stocks))
	for i, st := range stocks {
		tickers[i] = st.Ticker
	}
	if len(tickers) == 0 {
		fmt.Println(dimStyle.Render("no tickers"))
		return nil
	}
	statuses, err := c.Statuses(ctx, tickers...)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		fmt.Printf("%s %s\n", dot(s.Color), tickerStyle.Render(s.Ticker))
	}
	return nil
}

func runAdd(ctx context.Context, c *tickerwatch.Client, watchlistID, tickers string) error {
	res, err := c.AddTickers(ctx, watchlistID, tickers)
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	return nil
}
