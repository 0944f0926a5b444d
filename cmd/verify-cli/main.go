package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/VedanshGovind/FinGuard-AI/pkg/sdk"
)

const version = "1.0.0"

// Exit codes for `verify`, so scripts can branch on the outcome.
const (
	exitPass         = 0
	exitError        = 1
	exitFail         = 2
	exitInconclusive = 3
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitError)
	}

	gateway := os.Getenv("VERIFY_GATEWAY_URL")
	if gateway == "" {
		gateway = "http://localhost:8080"
	}
	client := sdk.NewClient(sdk.Config{
		GatewayURL: gateway,
		APIKey:     os.Getenv("VERIFY_API_KEY"),
		Timeout:    60 * time.Second,
	})

	switch os.Args[1] {
	case "challenge":
		cmdChallenge(client, os.Args[2:])
	case "verify":
		os.Exit(cmdVerify(client, os.Args[2:]))
	case "analyze":
		cmdAnalyze(client, os.Args[2:])
	case "version":
		fmt.Printf("verify-cli v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitError)
	}
}

func printUsage() {
	fmt.Println(`Live Verification CLI v` + version + `

Usage: verify-cli <command> [flags]

Commands:
  challenge  Issue a spoken challenge code for a session
  verify     Run three-factor verification for a live session
  analyze    Score a single video or audio file
  version    Print version
  help       Show this help

Environment:
  VERIFY_GATEWAY_URL   Service URL (default: http://localhost:8080)
  VERIFY_API_KEY       Bearer token (optional)

Examples:
  verify-cli challenge --session sess-42
  verify-cli verify --session sess-42 --recording s3://captures/sess-42.webm
  verify-cli verify --session sess-42 --code AB12CD --video v.mp4 --audio a.wav
  verify-cli analyze video --media s3://captures/clip.mp4

Exit codes for verify: 0 PASS, 2 FAIL, 3 INCONCLUSIVE, 1 error.`)
}

// ----------------------------------------------------------------
// challenge command
// ----------------------------------------------------------------

func cmdChallenge(client *sdk.Client, args []string) {
	fs := flag.NewFlagSet("challenge", flag.ExitOnError)
	session := fs.String("session", "", "session ID (generated when empty)")
	fs.Parse(args)

	c, err := client.IssueChallenge(context.Background(), *session)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Session:  %s\nCode:     %s\nExpires:  %s\n", c.SessionID, c.Code, c.ExpiresAt.Format(time.RFC3339))
}

// ----------------------------------------------------------------
// verify command
// ----------------------------------------------------------------

func cmdVerify(client *sdk.Client, args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	session := fs.String("session", "", "session ID (required)")
	code := fs.String("code", "", "expected challenge code (resolved server-side when empty)")
	recording := fs.String("recording", "", "single recording used for every modality")
	video := fs.String("video", "", "video handle")
	audio := fs.String("audio", "", "audio handle")
	codeMedia := fs.String("code-media", "", "handle for the spoken code (defaults to the recording)")
	asJSON := fs.Bool("json", false, "print the raw response")
	fs.Parse(args)

	if *session == "" {
		fmt.Fprintln(os.Stderr, "Error: --session is required")
		return exitError
	}

	result, err := client.VerifyLive(context.Background(), sdk.LiveRequest{
		SessionID:    *session,
		ExpectedCode: *code,
		Media: sdk.Media{
			Recording: *recording,
			Video:     *video,
			Audio:     *audio,
			Code:      *codeMedia,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		return exitError
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		printLive(result)
	}

	switch result.FinalVerdict {
	case sdk.VerdictPass:
		return exitPass
	case sdk.VerdictFail:
		return exitFail
	default:
		return exitInconclusive
	}
}

func printLive(r *sdk.LiveResult) {
	fmt.Printf("%s | session=%s | request=%s", r.FinalVerdict, r.SessionID, r.RequestID)
	if r.FailureReason != "" {
		fmt.Printf(" | reason=%s", r.FailureReason)
	}
	fmt.Println()

	fmt.Printf("%-6s %-9s %-8s %-10s %s\n", "SIGNAL", "STATUS", "SCORE", "VERDICT", "RISK")
	fmt.Println("--------------------------------------------------")
	for _, row := range []struct {
		name string
		rep  sdk.SignalReport
	}{{"VIDEO", r.Video}, {"AUDIO", r.Audio}} {
		fmt.Printf("%-6s %-9s %-8s %-10s %s\n", row.name, row.rep.Status, optFloat(row.rep.Score), row.rep.Verdict, row.rep.RiskLevel)
	}

	matched := "-"
	if r.Code.Matched != nil {
		matched = fmt.Sprintf("%t", *r.Code.Matched)
	}
	fmt.Printf("%-6s %-9s %-8s matched=%s\n", "CODE", r.Code.Status, optFloat(r.Code.Confidence), matched)

	if r.Explanation != "" {
		fmt.Println()
		fmt.Println(r.Explanation)
	}
}

// ----------------------------------------------------------------
// analyze command
// ----------------------------------------------------------------

func cmdAnalyze(client *sdk.Client, args []string) {
	if len(args) < 1 || (args[0] != "video" && args[0] != "audio") {
		fmt.Fprintln(os.Stderr, "Usage: verify-cli analyze <video|audio> --media <uri> [--session <id>]")
		os.Exit(exitError)
	}
	modality := args[0]

	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	media := fs.String("media", "", "media handle (required)")
	session := fs.String("session", "", "session ID")
	fs.Parse(args[1:])

	if *media == "" {
		fmt.Fprintln(os.Stderr, "Error: --media is required")
		os.Exit(exitError)
	}

	r, err := client.Analyze(context.Background(), modality, *session, *media)
	if err != nil {
		fail(err)
	}

	fmt.Printf("Modality:    %s\nStatus:      %s\nVerdict:     %s\nConfidence:  %s\nRisk:        %s\nAction:      %s\n",
		r.Modality, r.SignalStatus, r.Classification, optFloat(r.Confidence), r.RiskLevel, r.ActionRequired)
	if len(r.PolicyFlags) > 0 {
		fmt.Printf("Flags:       %s\n", strings.Join(r.PolicyFlags, ", "))
	}
	if r.Error != nil {
		fmt.Printf("Error:       %s (%s)\n", r.Error.Message, r.Error.Kind)
	}
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func optFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *f)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
	os.Exit(exitError)
}
