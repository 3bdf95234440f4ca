// Command activitytail prints the activity events the shell mirrors to its
// feed. It reads the feed settings from the shell's config file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craftstudio/craftstudio/internal/activity"
	"github.com/craftstudio/craftstudio/internal/config"
	"github.com/craftstudio/craftstudio/internal/queue"
	"github.com/craftstudio/craftstudio/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	instanceID := flag.String("instance", "", "Only show this instance (default: all)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	sub, err := queue.NewSubscriber(cfg.Activity.Feed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to feed: %v\n", err)
		os.Exit(1)
	}
	if sub == nil {
		fmt.Fprintln(os.Stderr, "Activity feed is disabled (activity.feed.type is none)")
		os.Exit(1)
	}
	defer func() { _ = sub.Close() }()

	subject := subjectFor(cfg.Activity.Feed.SubjectPrefix, *instanceID)
	if err := sub.Subscribe(subject, printer(os.Stdout)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to subscribe to %s: %v\n", subject, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Tailing %s (%s feed)\n", subject, cfg.Activity.Feed.Type)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
}

// subjectFor returns the subject for one instance, or a wildcard over all
func subjectFor(prefix, instanceID string) string {
	if prefix == "" {
		prefix = utils.ActivitySubjectPrefix
	}
	if instanceID == "" {
		return prefix + ".>"
	}
	return prefix + "." + instanceID
}

// printer writes one line per event. Undecodable messages are skipped.
func printer(w io.Writer) queue.MessageHandler {
	return func(subject string, data []byte) error {
		var ev activity.FeedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s: %w", subject, err)
		}
		_, err := fmt.Fprintf(w, "%s %-7s %s  %s\n",
			ev.Timestamp.Local().Format(time.TimeOnly), ev.Level, ev.InstanceID, ev.Message)
		return err
	}
}
