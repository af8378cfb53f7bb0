package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/brianly1003/touchcore/internal/pointer"
	"github.com/spf13/cobra"
)

var (
	gestureServer string
	gestureToken  string
	gestureScale  float64
)

// gestureCmd replays a recorded touch gesture against a server.
var gestureCmd = &cobra.Command{
	Use:   "gesture <script.yaml|->",
	Short: "Replay a touch gesture script as pointer commands",
	Long: `Replay a YAML gesture script through the same touch-to-pointer path the
companion UI uses, sending the resulting commands to /mouse.

Script format:
  surface: {left: 0, top: 0, width: 390, height: 844}
  scale: 2
  events:
    - phase: start
      touches: [{x: 100, y: 200}]
    - phase: end
      changed: [{x: 100, y: 200}]
      delay_ms: 40

Example:
  touchcore gesture tap.yaml
  touchcore gesture --server http://192.168.1.20:8000 --scale 3 swipe.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runGesture,
}

func init() {
	gestureCmd.Flags().StringVar(&gestureServer, "server", "", "server base URL (default: client.server_url)")
	gestureCmd.Flags().StringVar(&gestureToken, "token", "", "access token (default: client.token)")
	gestureCmd.Flags().Float64Var(&gestureScale, "scale", 0, "scale factor (default: client.scale, then the script's scale)")
}

func runGesture(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	script, err := openScript(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	server := cfg.Client.ServerURL
	if gestureServer != "" {
		server = gestureServer
	}
	token := cfg.Client.Token
	if gestureToken != "" {
		token = gestureToken
	}
	configured := cfg.Client.Scale
	if gestureScale > 0 {
		configured = gestureScale
	}
	sendTimeout := time.Duration(cfg.Client.SendTimeoutMS) * time.Millisecond

	logger := newClientLogger(os.Stderr, cfg.Logging.Level)
	sender := pointer.NewHTTPSender(server, token, &http.Client{Timeout: sendTimeout})
	dispatcher := pointer.NewDispatcher(sender,
		pointer.WithQueueSize(cfg.Client.QueueSize),
		pointer.WithSendTimeout(sendTimeout),
		pointer.WithLogger(logger),
	)
	binder := pointer.NewBinder(pointer.StaticSurface(script.Surface), pointer.ResolveScale(configured, script.Scale), dispatcher)

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("replaying gesture", "events", len(script.Events), "endpoint", sender.Endpoint())
	runErr := binder.Run(ctx, script.Play(ctx))

	dispatcher.Close()
	dispatcher.Wait()

	stats := dispatcher.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d, sent %d, failed %d, dropped %d\n",
		stats.Dispatched, stats.Sent, stats.Failed, stats.Dropped)
	return runErr
}

// openScript loads a gesture script from path, or from stdin for "-".
func openScript(path string, stdin io.Reader) (*pointer.Script, error) {
	if path == "-" {
		return pointer.LoadScript(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gesture script: %w", err)
	}
	defer f.Close()
	return pointer.LoadScript(f)
}
