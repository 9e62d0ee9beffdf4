// Package main provides the meshctl command-line tool: topic and
// service introspection over the discovery plane.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/meshbus/meshbus"
	"github.com/meshbus/meshbus/internal/config"
	"github.com/meshbus/meshbus/internal/discovery"
	"github.com/meshbus/meshbus/internal/util/logger"
	"github.com/meshbus/meshbus/pkg/names"
	"github.com/meshbus/meshbus/pkg/types"
)

const usage = `meshctl - meshbus introspection tool

Usage:
  meshctl topic list              list topics in the current partition
  meshctl topic info <topic>      show publishers of a topic
  meshctl service list            list services in the current partition
  meshctl service info <service>  show repliers of a service
  meshctl version                 print the library version

The current partition is MESHBUS_PARTITION, defaulting to host:user.
`

// discoverWait is how long we listen for peer beacons before reporting.
// Beacons re-announce every advertise interval (1s by default), so a
// little over one interval sees every live publisher.
var discoverWait = flag.Duration("wait", 1500*time.Millisecond, "how long to listen for beacons")

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Println("meshctl", meshbus.Version)
	case "topic":
		runInfoCommand(args[1:], false)
	case "service":
		runInfoCommand(args[1:], true)
	default:
		fmt.Fprintf(os.Stderr, "meshctl: unknown command %q\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
}

func runInfoCommand(args []string, service bool) {
	kind := "topic"
	if service {
		kind = "service"
	}
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "meshctl: %s needs a subcommand (list | info)\n", kind)
		os.Exit(1)
	}

	// Keep lifecycle chatter out of the tool's output unless the user
	// asked for it explicitly.
	if os.Getenv("MESHBUS_LOG_LEVEL") == "" {
		logger.SetLevel("discovery", slog.LevelWarn)
	}

	cfg := config.NewConfig()
	eng, err := discovery.NewEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshctl: %v\n", err)
		os.Exit(1)
	}
	if err := eng.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "meshctl: %v\n", err)
		os.Exit(1)
	}
	defer eng.Stop()

	switch args[0] {
	case "list":
		list(eng, cfg.Network.Partition, service)
	case "info":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "meshctl: %s info needs a %s name\n", kind, kind)
			os.Exit(1)
		}
		info(eng, cfg.Network.Partition, args[1], service)
	default:
		fmt.Fprintf(os.Stderr, "meshctl: unknown %s subcommand %q\n", kind, args[0])
		os.Exit(1)
	}
}

// list waits for beacons, then prints every topic (or service) name
// advertised in our partition.
func list(eng *discovery.Engine, partition string, service bool) {
	time.Sleep(*discoverWait)

	seen := make(map[string]struct{})
	for _, fq := range eng.ListTopics() {
		topic, ok := bareName(fq, partition, service)
		if !ok {
			continue
		}
		seen[topic] = struct{}{}
	}

	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		fmt.Println(topic)
	}
}

// info broadcasts a discovery request for one topic (or service), waits
// for the answers and prints each publisher's endpoint and types.
func info(eng *discovery.Engine, partition, topic string, service bool) {
	var fq string
	var err error
	if service {
		fq, err = names.FullyQualifiedSrvName(partition, "", topic)
	} else {
		fq, err = names.FullyQualifiedMsgName(partition, "", topic)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshctl: %v\n", err)
		os.Exit(1)
	}

	if service {
		err = eng.DiscoverSrv(fq)
	} else {
		err = eng.DiscoverMsg(fq)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshctl: %v\n", err)
		os.Exit(1)
	}
	time.Sleep(*discoverWait)

	var pubs []types.Publisher
	if service {
		pubs = eng.GetSrvPublishers(fq)
	} else {
		pubs = eng.GetMsgPublishers(fq)
	}
	if len(pubs) == 0 {
		fmt.Println("no publishers")
		return
	}
	for _, pub := range pubs {
		printPublisher(pub, service)
	}
}

func printPublisher(pub types.Publisher, service bool) {
	fmt.Printf("address:  %s\n", pub.Addr)
	fmt.Printf("process:  %s\n", pub.PUuid.String())
	fmt.Printf("node:     %s\n", pub.NUuid.String())
	fmt.Printf("scope:    %s\n", pub.Scope)
	if service {
		fmt.Printf("req type: %s\n", pub.ReqType)
		fmt.Printf("rep type: %s\n", pub.RepType)
	} else {
		fmt.Printf("msg type: %s\n", pub.MsgType)
	}
	fmt.Println()
}

// bareName strips the partition prefix and typed infix from a fully
// qualified name, reporting false when the name belongs to another
// partition or the other kind (msg vs srv).
func bareName(fq, partition string, service bool) (string, bool) {
	p, ok := names.PartitionFromName(fq)
	if !ok || p != partition {
		return "", false
	}
	infix, ok := names.TypeFromName(fq)
	if !ok {
		return "", false
	}
	if service && infix != "srv" {
		return "", false
	}
	if !service && infix != "msg" {
		return "", false
	}
	topic, ok := names.TopicFromName(fq)
	if !ok || strings.TrimSpace(topic) == "" {
		return "", false
	}
	return topic, true
}
