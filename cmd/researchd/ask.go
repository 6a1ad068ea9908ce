package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/internal/stream"
	"github.com/spf13/cobra"
)

func askCMD() *cobra.Command {
	var cfgPath string
	var verbose bool
	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Research one question and print the streamed answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			t, err := a.registry.Create(strings.Join(args, " "))
			if err != nil {
				return err
			}
			sub := a.broker.Subscribe(t.ID)
			defer sub.Close()
			if err := a.engine.Start(ctx, t); err != nil {
				return err
			}
			go func() {
				<-ctx.Done()
				_ = a.registry.Delete(t.ID)
			}()
			return printEvents(ctx, sub, cmd.OutOrStdout(), cmd.ErrOrStderr(), verbose)
		},
	}
	ask.Flags().BoolVarP(&verbose, "verbose", "v", false, "print activity lines")
	ask.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return ask
}

// printEvents writes answer chunks to out and progress to progress until the
// terminal event.
func printEvents(ctx context.Context, sub *stream.Subscription, out, progress io.Writer, verbose bool) error {
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch ev.Kind {
		case stream.KindStage, stream.KindStatus:
			var p stream.StagePayload
			if ev.Decode(&p) == nil {
				fmt.Fprintf(progress, "» %s\n", p.Message)
			}
		case stream.KindLog:
			var l research.LogLine
			if verbose && ev.Decode(&l) == nil {
				fmt.Fprintf(progress, "  [%s] %s: %s\n", l.Level, l.Agent, l.Message)
			}
		case stream.KindResponse:
			var p stream.ResponsePayload
			if ev.Decode(&p) == nil {
				fmt.Fprint(out, p.Chunk)
			}
		case stream.KindComplete:
			var p stream.CompletePayload
			if ev.Decode(&p) == nil {
				fmt.Fprintf(progress, "\n» %s (%d sources, confidence %.0f%%)\n", p.Message, p.SourcesCount, p.Confidence*100)
			}
		case stream.KindError:
			var p stream.ErrorPayload
			_ = ev.Decode(&p)
			return errors.New(p.Message)
		}
	}
}
