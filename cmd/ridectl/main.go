// Command ridectl requests a ride from the command line and waits for a
// driver to accept it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/example/shego/internal/config"
	"github.com/example/shego/pkg/bookingclient"
	"github.com/example/shego/pkg/observability"
)

const usage = `usage: ridectl [-config path] <command> [flags]

commands:
  quote    --pickup "lng,lat,address" --dropoff "lng,lat,address"
  request  --passenger id --pickup ... --dropoff ... [--payment credit_card|paypal] [--no-watch]
  status   --booking id
  watch    --booking id
  cancel   --booking id [--token jwt]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ridectl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("ridectl", flag.ContinueOnError)
	configPath := global.String("config", os.Getenv("CONFIG_PATH"), "path to TOML config")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := observability.SetupLogger("ridectl", cfg.Log.Level)
	defer logger.Sync() //nolint:errcheck

	client := bookingclient.New(cfg.Client.BaseURL, nil)
	watcher := bookingclient.NewWatcher(client, watchConfig(cfg.Client), logger)

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "quote":
		return runQuote(ctx, client, rest, out)
	case "request":
		return runRequest(ctx, client, watcher, rest, out)
	case "status":
		return runStatus(ctx, client, rest, out)
	case "watch":
		return runWatch(ctx, watcher, rest, out)
	case "cancel":
		return runCancel(ctx, client, rest, out)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func watchConfig(c config.ClientConfig) bookingclient.WatchConfig {
	return bookingclient.WatchConfig{
		Interval:          c.PollInterval(),
		MaxAttempts:       c.MaxAttempts,
		Timeout:           c.Timeout(),
		BackoffMultiplier: c.BackoffMultiplier,
		MaxInterval:       c.MaxInterval(),
		StopOnTerminal:    c.StopOnTerminal,
	}
}

type tripFlags struct {
	pickup  string
	dropoff string
}

func (t *tripFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&t.pickup, "pickup", "", `pickup as "lng,lat,address"`)
	fs.StringVar(&t.dropoff, "dropoff", "", `dropoff as "lng,lat,address"`)
}

func (t *tripFlags) parse() (bookingclient.Location, bookingclient.Location, error) {
	pickup, err := parseLocation(t.pickup)
	if err != nil {
		return bookingclient.Location{}, bookingclient.Location{}, fmt.Errorf("pickup: %w", err)
	}
	dropoff, err := parseLocation(t.dropoff)
	if err != nil {
		return bookingclient.Location{}, bookingclient.Location{}, fmt.Errorf("dropoff: %w", err)
	}
	return pickup, dropoff, nil
}

// parseLocation reads "lng,lat,address". The address may itself contain commas.
func parseLocation(raw string) (bookingclient.Location, error) {
	parts := strings.SplitN(raw, ",", 3)
	if len(parts) != 3 {
		return bookingclient.Location{}, fmt.Errorf("want lng,lat,address, got %q", raw)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return bookingclient.Location{}, fmt.Errorf("longitude: %w", err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return bookingclient.Location{}, fmt.Errorf("latitude: %w", err)
	}
	address := strings.TrimSpace(parts[2])
	if address == "" {
		return bookingclient.Location{}, errors.New("address is empty")
	}
	return bookingclient.Location{Longitude: lng, Latitude: lat, Address: address}, nil
}

func runQuote(ctx context.Context, client *bookingclient.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	var trip tripFlags
	trip.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	pickup, dropoff, err := trip.parse()
	if err != nil {
		return err
	}
	quote, err := client.Estimate(ctx, pickup, dropoff)
	if err != nil {
		return err
	}
	printQuote(out, quote)
	return nil
}

func printQuote(out io.Writer, q bookingclient.Estimate) {
	fmt.Fprintf(out, "distance: %.2f km\nduration: %.0f min\nfare:     %.2f\n", q.DistanceKm, q.DurationMinutes, q.Fare)
	if q.DriverETASec != nil {
		fmt.Fprintf(out, "nearest driver %s in %.0f s\n", q.DriverID, *q.DriverETASec)
	}
}

func runRequest(ctx context.Context, client *bookingclient.Client, watcher *bookingclient.Watcher, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	var trip tripFlags
	trip.register(fs)
	passenger := fs.String("passenger", "", "passenger id")
	payment := fs.String("payment", "credit_card", "payment method")
	noWatch := fs.Bool("no-watch", false, "return after the booking is created")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *passenger == "" {
		return errors.New("--passenger is required")
	}
	pickup, dropoff, err := trip.parse()
	if err != nil {
		return err
	}

	quote, err := client.Estimate(ctx, pickup, dropoff)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	printQuote(out, quote)

	id, err := client.CreateBooking(ctx, uuid.NewString(), bookingclient.CreateRequest{
		PassengerID:     *passenger,
		Pickup:          pickup,
		Dropoff:         dropoff,
		Fare:            quote.Fare,
		PaymentMethod:   *payment,
		DistanceKm:      quote.DistanceKm,
		DurationMinutes: quote.DurationMinutes,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "booking %s created, status pending\n", id)
	if *noWatch {
		return nil
	}
	return watch(ctx, watcher, id, out)
}

func runStatus(ctx context.Context, client *bookingclient.Client, args []string, out io.Writer) error {
	id, err := bookingFlag("status", args)
	if err != nil {
		return err
	}
	status, err := client.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "status: %s\n", status.Status)
	if status.Driver != nil {
		printDriver(out, status.Driver)
	}
	return nil
}

func runWatch(ctx context.Context, watcher *bookingclient.Watcher, args []string, out io.Writer) error {
	id, err := bookingFlag("watch", args)
	if err != nil {
		return err
	}
	return watch(ctx, watcher, id, out)
}

func runCancel(ctx context.Context, client *bookingclient.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	id := fs.String("booking", "", "booking id")
	token := fs.String("token", os.Getenv("RIDECTL_TOKEN"), "bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("--booking is required")
	}
	if *token != "" {
		client = client.WithToken(*token)
	}
	if err := client.Cancel(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(out, "booking %s cancelled\n", *id)
	return nil
}

func bookingFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.String("booking", "", "booking id")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *id == "" {
		return "", errors.New("--booking is required")
	}
	return *id, nil
}

func watch(ctx context.Context, watcher *bookingclient.Watcher, id string, out io.Writer) error {
	fmt.Fprintln(out, "waiting for a driver (Ctrl+C to stop)...")
	driver, err := watcher.Watch(ctx, id)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "stopped watching")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "driver accepted your ride")
	if driver != nil {
		printDriver(out, driver)
	}
	return nil
}

func printDriver(out io.Writer, d *bookingclient.Driver) {
	fmt.Fprintf(out, "driver:  %s\nvehicle: %s (%s)\nphone:   %s\n", d.Name, d.Vehicle, d.Plate, d.Phone)
}
