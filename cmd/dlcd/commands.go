package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ark-network/dlc/internal/config"
	"github.com/ark-network/dlc/internal/infrastructure/signer"
	"github.com/urfave/cli/v2"
)

// flags
var (
	urlFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "the url of the dlcd admin API",
		Value: fmt.Sprintf("http://localhost:%d", config.DefaultPort),
	}
	statusFlag = &cli.StringSliceFlag{
		Name:  "status",
		Usage: "filter contracts by status (OFFERED, ACCEPTED, FUNDED, EXECUTED, REFUNDED, DISPUTED_FAILED)",
	}
	endpointFlag = &cli.StringFlag{
		Name:     "endpoint",
		Usage:    "the oracle endpoint",
		Required: true,
	}
	attestationFlag = &cli.StringFlag{
		Name:     "attestation",
		Usage:    "path of the JSON attestation, - for stdin",
		Required: true,
	}
)

// commands
var (
	startCmd = &cli.Command{
		Name:   "start",
		Usage:  "Start the daemon",
		Action: startAction,
	}
	contractsCmd = &cli.Command{
		Name:  "contracts",
		Usage: "Inspect and settle contracts",
		Subcommands: append(
			cli.Commands{},
			contractsListCmd,
			contractsShowCmd,
			contractsExecuteCmd,
			contractsRefundCmd,
			contractsReconcileCmd,
		),
	}
	contractsListCmd = &cli.Command{
		Name:   "list",
		Usage:  "List contracts",
		Flags:  []cli.Flag{urlFlag, statusFlag},
		Action: contractsListAction,
	}
	contractsShowCmd = &cli.Command{
		Name:      "show",
		Usage:     "Show a contract",
		ArgsUsage: "<contract id>",
		Flags:     []cli.Flag{urlFlag},
		Action:    contractsShowAction,
	}
	contractsExecuteCmd = &cli.Command{
		Name:      "execute",
		Usage:     "Execute a funded contract with the given oracle attestation",
		ArgsUsage: "<contract id>",
		Flags:     []cli.Flag{urlFlag, attestationFlag},
		Action:    contractsExecuteAction,
	}
	contractsRefundCmd = &cli.Command{
		Name:      "refund",
		Usage:     "Broadcast the refund tx of a funded contract",
		ArgsUsage: "<contract id>",
		Flags:     []cli.Flag{urlFlag},
		Action:    contractsRefundAction,
	}
	contractsReconcileCmd = &cli.Command{
		Name:      "reconcile",
		Usage:     "Align the contract status with the settlement tx confirmed onchain",
		ArgsUsage: "<contract id>",
		Flags:     []cli.Flag{urlFlag},
		Action:    contractsReconcileAction,
	}
	oracleCmd = &cli.Command{
		Name:  "oracle",
		Usage: "Query oracles through the daemon",
		Subcommands: append(
			cli.Commands{},
			&cli.Command{
				Name:   "info",
				Usage:  "Get the oracle info",
				Flags:  []cli.Flag{urlFlag, endpointFlag},
				Action: oracleInfoAction,
			},
			&cli.Command{
				Name:      "announcement",
				Usage:     "Get the announcement of an event",
				ArgsUsage: "<event id>",
				Flags:     []cli.Flag{urlFlag, endpointFlag},
				Action:    oracleAnnouncementAction,
			},
		),
	}
	mnemonicCmd = &cli.Command{
		Name:   "mnemonic",
		Usage:  "Generate a new mnemonic for the daemon signer",
		Action: mnemonicAction,
	}
)

func contractsListAction(ctx *cli.Context) error {
	query := url.Values{}
	if statuses := ctx.StringSlice("status"); len(statuses) > 0 {
		query.Set("status", strings.Join(statuses, ","))
	}
	endpoint := fmt.Sprintf("%s/v1/contracts", ctx.String("url"))
	if len(query) > 0 {
		endpoint = fmt.Sprintf("%s?%s", endpoint, query.Encode())
	}
	return printResponse(http.MethodGet, endpoint, nil)
}

func contractsShowAction(ctx *cli.Context) error {
	contractId, err := contractIdArg(ctx)
	if err != nil {
		return err
	}
	return printResponse(
		http.MethodGet, fmt.Sprintf("%s/v1/contracts/%s", ctx.String("url"), contractId), nil,
	)
}

func contractsExecuteAction(ctx *cli.Context) error {
	contractId, err := contractIdArg(ctx)
	if err != nil {
		return err
	}

	path := ctx.String("attestation")
	var body []byte
	if path == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read attestation: %s", err)
	}

	return printResponse(
		http.MethodPost,
		fmt.Sprintf("%s/v1/contracts/%s/execute", ctx.String("url"), contractId),
		body,
	)
}

func contractsRefundAction(ctx *cli.Context) error {
	contractId, err := contractIdArg(ctx)
	if err != nil {
		return err
	}
	return printResponse(
		http.MethodPost,
		fmt.Sprintf("%s/v1/contracts/%s/refund", ctx.String("url"), contractId),
		nil,
	)
}

func contractsReconcileAction(ctx *cli.Context) error {
	contractId, err := contractIdArg(ctx)
	if err != nil {
		return err
	}
	return printResponse(
		http.MethodPost,
		fmt.Sprintf("%s/v1/contracts/%s/reconcile", ctx.String("url"), contractId),
		nil,
	)
}

func oracleInfoAction(ctx *cli.Context) error {
	query := url.Values{"endpoint": {ctx.String("endpoint")}}
	return printResponse(
		http.MethodGet,
		fmt.Sprintf("%s/v1/oracle/info?%s", ctx.String("url"), query.Encode()),
		nil,
	)
}

func oracleAnnouncementAction(ctx *cli.Context) error {
	eventId := ctx.Args().First()
	if len(eventId) <= 0 {
		return fmt.Errorf("missing event id")
	}
	query := url.Values{"endpoint": {ctx.String("endpoint")}}
	return printResponse(
		http.MethodGet,
		fmt.Sprintf(
			"%s/v1/oracle/announcements/%s?%s",
			ctx.String("url"), url.PathEscape(eventId), query.Encode(),
		),
		nil,
	)
}

func mnemonicAction(_ *cli.Context) error {
	mnemonic, err := signer.NewMnemonic()
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

func contractIdArg(ctx *cli.Context) (string, error) {
	contractId := ctx.Args().First()
	if len(contractId) <= 0 {
		return "", fmt.Errorf("missing contract id")
	}
	return contractId, nil
}

func printResponse(method, endpoint string, body []byte) error {
	req, err := http.NewRequest(method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(buf))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, buf, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}
