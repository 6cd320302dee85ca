// voxscribe records a Discord voice conversation through WASAPI loopback
// and microphone capture, segments it per speaker using the local
// client's RPC speaking events, and produces a time-aligned transcript.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/voxscribe/voxscribe/internal/discordrpc"
	"github.com/voxscribe/voxscribe/internal/export"
	"github.com/voxscribe/voxscribe/internal/feedback"
	"github.com/voxscribe/voxscribe/internal/project"
	"github.com/voxscribe/voxscribe/internal/session"
	"github.com/voxscribe/voxscribe/pkg/transcriber"
)

func main() {
	_ = godotenv.Load()
	configureLogging()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "record":
		err = cmdRecord(os.Args[2:])
	case "transcribe":
		err = cmdTranscribe(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "models":
		err = cmdModels(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logrus.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: voxscribe <command> [flags]

commands:
  record      connect to Discord, record the voice channel, save a project
  transcribe  transcribe a saved project's segments
  export      export a project's transcript as SRT or VTT
  models      download whisper models or list remote API models`)
}

func configureLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if logFile := os.Getenv("VOXSCRIBE_LOG_FILE"); logFile != "" {
		logrus.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}))
	}
}

// transcriptionFlags registers the shared backend-selection flags.
type transcriptionFlags struct {
	mode        string
	modelPath   string
	language    string
	remoteURL   string
	remoteModel string
	remoteKey   string
}

func (tf *transcriptionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&tf.mode, "mode", "local", "transcription mode: local or remote")
	fs.StringVar(&tf.modelPath, "model", os.Getenv("VOXSCRIBE_MODEL"), "path to a ggml whisper model (local mode)")
	fs.StringVar(&tf.language, "language", "", "language code hint, e.g. en")
	fs.StringVar(&tf.remoteURL, "remote-url", os.Getenv("VOXSCRIBE_REMOTE_URL"), "remote transcription endpoint URL")
	fs.StringVar(&tf.remoteModel, "remote-model", os.Getenv("VOXSCRIBE_REMOTE_MODEL"), "remote model identifier")
	fs.StringVar(&tf.remoteKey, "remote-key", os.Getenv("VOXSCRIBE_REMOTE_KEY"), "remote API key")
}

func (tf *transcriptionFlags) config() transcriber.Config {
	return transcriber.Config{
		Mode:          transcriber.Mode(tf.mode),
		ModelPath:     tf.modelPath,
		Language:      tf.language,
		RemoteBaseURL: tf.remoteURL,
		RemoteModel:   tf.remoteModel,
		RemoteAPIKey:  tf.remoteKey,
	}
}

func cmdRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	clientID := fs.String("client-id", os.Getenv("DISCORD_CLIENT_ID"), "Discord application client id")
	clientSecret := fs.String("client-secret", os.Getenv("DISCORD_CLIENT_SECRET"), "Discord application client secret")
	origin := fs.String("origin", envOr("DISCORD_RPC_ORIGIN", "https://localhost"), "RPC origin / OAuth redirect URI")
	tokensPath := fs.String("tokens", "discord_tokens.json", "path of the persisted token file")
	outDir := fs.String("out", ".", "output directory for audio and project files")
	mergeBuffer := fs.Uint64("merge-buffer", 1000, "merge buffer in ms: silences shorter than this join utterances")
	template := fs.String("template", session.DefaultNameTemplate, "session name template ({guild} {channel} {timestamp} {date} {time})")
	live := fs.Bool("live", false, "transcribe segments live while recording")
	var tf transcriptionFlags
	tf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientID == "" || *clientSecret == "" {
		return fmt.Errorf("client id and secret are required (flags or DISCORD_CLIENT_ID / DISCORD_CLIENT_SECRET)")
	}
	if err := os.MkdirAll(*outDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	client := discordrpc.NewClient(*clientID, *clientSecret, *origin)
	events := make(chan discordrpc.SpeakingEvent, 1024)

	refresh, err := connectClient(ctx, client, events, *tokensPath)
	if err != nil {
		return err
	}
	if refresh != "" {
		err := discordrpc.SaveTokens(*tokensPath, &discordrpc.Tokens{
			ClientID:     *clientID,
			ClientSecret: *clientSecret,
			RPCOrigin:    *origin,
			RefreshToken: refresh,
		})
		if err != nil {
			logrus.WithError(err).Warn("Failed to persist tokens")
		}
	}
	defer func() {
		if err := client.Close(); err != nil {
			logrus.WithError(err).Debug("RPC close failed")
		}
	}()

	info := client.ChannelInfo()
	if info == nil {
		return fmt.Errorf("not in a voice channel")
	}

	recorder := session.NewRecorder()
	if err := recorder.StartSession(*info, *mergeBuffer, *template, *live); err != nil {
		return err
	}
	go recorder.ConsumeEvents(events)

	var liveCfg *session.LiveConfig
	if *live {
		backend, err := transcriber.Resolve(tf.config())
		if err != nil {
			return err
		}
		bus := feedback.NewBus(64)
		defer bus.Stop()
		bus.Subscribe(feedback.EventTranscriptSegment, func(e feedback.Event) {
			data, ok := e.Data.(feedback.TranscriptSegmentData)
			if !ok {
				return
			}
			speaker := data.Segment.SpeakerName
			if speaker == "" {
				speaker = data.Segment.UserID
			}
			fmt.Printf("[%s]: %s\n", speaker, data.Text)
		})
		liveCfg = &session.LiveConfig{
			Backend:    backend,
			ScratchDir: filepath.Join(*outDir, "transcribe_temp"),
			Bus:        bus,
		}
	}

	loopbackPath := filepath.Join(*outDir, "loopback.wav")
	micPath := filepath.Join(*outDir, "microphone.wav")
	if err := recorder.StartRecording(loopbackPath, micPath, liveCfg); err != nil {
		return err
	}

	logrus.Info("Recording. Press CTRL-C to stop.")
	<-ctx.Done()

	state, err := recorder.StopRecording()
	if err != nil {
		return err
	}
	projectPath := project.DefaultPath(*outDir, state)
	if err := project.Save(projectPath, state); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"project":  projectPath,
		"segments": len(state.Segments),
	}).Info("Session saved")
	return nil
}

// connectClient reconnects silently when persisted tokens exist, falling
// back to the interactive OAuth flow.
func connectClient(ctx context.Context, client *discordrpc.Client, events chan discordrpc.SpeakingEvent, tokensPath string) (string, error) {
	tokens, err := discordrpc.LoadTokens(tokensPath)
	if err != nil {
		logrus.WithError(err).Warn("Token file unreadable, falling back to fresh auth")
	}
	if tokens != nil && tokens.RefreshToken != "" {
		refresh, err := client.ConnectWithRefreshToken(ctx, events, tokens.RefreshToken)
		if err == nil {
			logrus.Info("Reconnected with stored refresh token")
			return refresh, nil
		}
		logrus.WithError(err).Warn("Silent reconnect failed, falling back to fresh auth")
	}
	return client.Connect(ctx, events)
}

func cmdTranscribe(args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ExitOnError)
	projectPath := fs.String("project", "", "project file to transcribe")
	scratchDir := fs.String("scratch", "transcribe_temp", "scratch directory for segment slices")
	var tf transcriptionFlags
	tf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectPath == "" {
		return fmt.Errorf("-project is required")
	}

	state, err := project.Load(*projectPath)
	if err != nil {
		return err
	}
	backend, err := transcriber.Resolve(tf.config())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	if err := session.TranscribeSession(ctx, state, backend, *scratchDir); err != nil {
		return err
	}
	return project.Save(*projectPath, state)
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	projectPath := fs.String("project", "", "project file to export")
	format := fs.String("format", "srt", "subtitle format: srt or vtt")
	outPath := fs.String("out", "", "output file (defaults to the project path with the format extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectPath == "" {
		return fmt.Errorf("-project is required")
	}

	state, err := project.Load(*projectPath)
	if err != nil {
		return err
	}
	out := *outPath
	if out == "" {
		out = strings.TrimSuffix(*projectPath, project.Extension) + "." + *format
	}

	switch *format {
	case "srt":
		err = export.WriteSRT(out, state.Segments, state.TranscriptTexts)
	case "vtt":
		err = export.WriteVTT(out, state.Segments, state.TranscriptTexts)
	default:
		return fmt.Errorf("unknown format %q (want srt or vtt)", *format)
	}
	if err != nil {
		return err
	}
	logrus.WithField("path", out).Info("Transcript exported")
	return nil
}

func cmdModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	download := fs.String("download", "", "model name to download (e.g. base.en)")
	modelsDir := fs.String("dir", "models", "directory for downloaded models")
	listRemote := fs.String("list-remote", "", "host of an OpenAI-compatible API to list models from")
	remotePath := fs.String("remote-path", "", "models endpoint path (default /v1/models)")
	remoteKey := fs.String("remote-key", os.Getenv("VOXSCRIBE_REMOTE_KEY"), "remote API key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	switch {
	case *download != "":
		path, err := transcriber.DownloadModel(ctx, *modelsDir, *download)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	case *listRemote != "":
		ids, err := transcriber.ListRemoteModels(ctx, *listRemote, *remotePath, *remoteKey)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	default:
		for _, m := range transcriber.KnownModels {
			fmt.Printf("%-12s %s\n", m.Name, m.FileName)
		}
		return nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
