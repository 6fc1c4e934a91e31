package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	oracleserver "github.com/ark-network/dlc/internal/interface/oracle"
	"github.com/ark-network/dlc/pkg/oracle"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const keyFile = "oracle.key"

var defaultDatadir = btcutil.AppDataDir("oracled", false)

// flags
var (
	urlFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "the url of the oracle",
		Value: "http://localhost:7072",
	}
	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "directory holding the oracle key",
		Value:   defaultDatadir,
		EnvVars: []string{"ORACLED_DATADIR"},
	}
	keyFlag = &cli.StringFlag{
		Name:    "key",
		Usage:   "hex encoded oracle private key, overrides the key in datadir",
		EnvVars: []string{"ORACLED_KEY"},
	}
	portFlag = &cli.UintFlag{
		Name:    "port",
		Usage:   "port to listen on",
		Value:   7072,
		EnvVars: []string{"ORACLED_PORT"},
	}
	nameFlag = &cli.StringFlag{
		Name:    "name",
		Usage:   "name of the oracle",
		Value:   "oracled",
		EnvVars: []string{"ORACLED_NAME"},
	}
	endpointFlag = &cli.StringFlag{
		Name:    "endpoint",
		Usage:   "public endpoint advertised in the oracle info",
		EnvVars: []string{"ORACLED_ENDPOINT"},
	}
	eventTypesFlag = &cli.StringSliceFlag{
		Name:    "event-types",
		Usage:   "event types the oracle attests",
		EnvVars: []string{"ORACLED_EVENT_TYPES"},
	}
	logLevelFlag = &cli.IntFlag{
		Name:    "log-level",
		Usage:   "logrus log level",
		Value:   int(log.InfoLevel),
		EnvVars: []string{"ORACLED_LOG_LEVEL"},
	}
	eventIdFlag = &cli.StringFlag{
		Name:  "event-id",
		Usage: "the event id, derived from description and maturity if empty",
	}
	attestEventIdFlag = &cli.StringFlag{
		Name:     "event-id",
		Usage:    "the event id",
		Required: true,
	}
	descriptionFlag = &cli.StringFlag{
		Name:     "description",
		Usage:    "the event description",
		Required: true,
	}
	eventTypeFlag = &cli.StringFlag{
		Name:  "event-type",
		Usage: "the event type",
	}
	outcomesFlag = &cli.StringSliceFlag{
		Name:     "outcomes",
		Usage:    "the possible outcomes of the event",
		Required: true,
	}
	maturityFlag = &cli.StringFlag{
		Name:     "maturity",
		Usage:    "maturity time of the event, RFC3339 or unix timestamp",
		Required: true,
	}
	outcomeFlag = &cli.StringFlag{
		Name:     "outcome",
		Usage:    "the outcome to attest",
		Required: true,
	}
)

// commands
var (
	serveCmd = &cli.Command{
		Name:  "serve",
		Usage: "Serve announcements and attestations over HTTP",
		Flags: []cli.Flag{
			datadirFlag, keyFlag, portFlag, nameFlag, endpointFlag, eventTypesFlag, logLevelFlag,
		},
		Action: serveAction,
	}
	announceCmd = &cli.Command{
		Name:  "announce",
		Usage: "Announce a new event",
		Flags: []cli.Flag{
			urlFlag, eventIdFlag, descriptionFlag, eventTypeFlag, outcomesFlag, maturityFlag,
		},
		Action: announceAction,
	}
	attestCmd = &cli.Command{
		Name:   "attest",
		Usage:  "Attest the outcome of a mature event",
		Flags:  []cli.Flag{urlFlag, attestEventIdFlag, outcomeFlag},
		Action: attestAction,
	}
)

func serveAction(ctx *cli.Context) error {
	log.SetLevel(log.Level(ctx.Int("log-level")))

	key, err := loadOrCreateKey(ctx.String("datadir"), ctx.String("key"))
	if err != nil {
		return err
	}

	svc := oracleserver.NewService(
		oracle.NewAttestor(key), ctx.String("name"), ctx.String("endpoint"),
		ctx.StringSlice("event-types"),
	)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", ctx.Uint("port")),
		Handler:           svc,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("oracle server stopped")
		}
	}()
	log.Infof(
		"oracle %s listening on %s with pubkey %s",
		svc.Info().Name, server.Addr, svc.Info().PublicKey,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt)
	<-sigChan

	log.Info("shutting down oracle...")
	return server.Close()
}

func announceAction(ctx *cli.Context) error {
	maturity, err := parseTime(ctx.String("maturity"))
	if err != nil {
		return err
	}
	return post(
		fmt.Sprintf("%s/%s/announcements", ctx.String("url"), oracle.SchemeVersion),
		oracleserver.AnnounceRequest{
			EventId:      ctx.String("event-id"),
			Description:  ctx.String("description"),
			EventType:    ctx.String("event-type"),
			Outcomes:     ctx.StringSlice("outcomes"),
			MaturityTime: maturity.Unix(),
		},
	)
}

func attestAction(ctx *cli.Context) error {
	return post(
		fmt.Sprintf("%s/%s/attestations", ctx.String("url"), oracle.SchemeVersion),
		oracleserver.AttestRequest{
			EventId: ctx.String("event-id"),
			Outcome: ctx.String("outcome"),
		},
	)
}

// loadOrCreateKey reads the oracle key from datadir, generating and storing
// a new one on first run.
func loadOrCreateKey(datadir, keyHex string) (*btcec.PrivateKey, error) {
	if len(keyHex) <= 0 {
		path := filepath.Join(datadir, keyFile)
		buf, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read oracle key: %s", err)
			}
			key, err := btcec.NewPrivateKey()
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(datadir, os.ModeDir|0755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(
				path, []byte(hex.EncodeToString(key.Serialize())), 0600,
			); err != nil {
				return nil, fmt.Errorf("failed to store oracle key: %s", err)
			}
			log.Infof("generated new oracle key in %s", path)
			return key, nil
		}
		keyHex = strings.TrimSpace(string(buf))
	}

	buf, err := hex.DecodeString(keyHex)
	if err != nil || len(buf) != 32 {
		return nil, fmt.Errorf("invalid oracle key")
	}
	key, _ := btcec.PrivKeyFromBytes(buf)
	return key, nil
}

func parseTime(str string) (time.Time, error) {
	if ts, err := strconv.ParseInt(str, 10, 64); err == nil {
		return time.Unix(ts, 0), nil
	}
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %s, must be RFC3339 or unix timestamp", str)
	}
	return t, nil
}

func post(url string, body interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, respBody, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}
