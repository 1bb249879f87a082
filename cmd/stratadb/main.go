// cmd/stratadb/main.go
//
// Interactive shell for a strata database.
//
// Usage:
//
//	stratadb [-config file.toml] [data-dir]
//
// Use .help inside the shell for available commands.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"strata/pkg/config"
	"strata/pkg/mvcc"
	"strata/pkg/stratadb"
)

const helpText = `Commands:
  begin [level]     start a transaction (ReadUncommitted, ReadCommitted,
                    RepeatableRead, Serializable, SnapshotIsolation)
  get <key>         read a key in the current transaction
  set <key> <val>   write a key in the current transaction
  del <key>         delete a key in the current transaction
  scan [lo] [hi]    list visible keys in [lo, hi)
  commit            commit the current transaction
  rollback          abort the current transaction
  checkpoint        snapshot committed state and reset the log
  stats             print engine counters
  .help             show this help
  .exit             quit`

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.FromTOMLFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.NewDefaultConfig()
	}
	if flag.NArg() > 0 {
		cfg.Dir = flag.Arg(0)
	}

	db, err := stratadb.OpenWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	logrus.WithField("dir", cfg.Dir).Info("database open")
	runShell(db)
}

func runShell(db *stratadb.DB) {
	scanner := bufio.NewScanner(os.Stdin)
	var tx *stratadb.Tx

	fmt.Println("stratadb shell, .help for commands")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case ".exit", ".quit":
			if tx != nil {
				tx.Rollback()
			}
			return
		case ".help":
			fmt.Println(helpText)

		case "begin":
			if tx != nil {
				fmt.Println("error: transaction already open")
				continue
			}
			level := mvcc.ReadCommitted
			if len(fields) > 1 {
				parsed, err := mvcc.ParseIsolationLevel(fields[1])
				if err != nil {
					fmt.Printf("error: %v\n", err)
					continue
				}
				level = parsed
			}
			t, err := db.Begin(level)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			tx = t
			fmt.Printf("txn %d started (%s)\n", tx.ID(), tx.Level())

		case "get":
			if !requireTx(tx) || !requireArgs(fields, 2) {
				continue
			}
			value, err := tx.Get([]byte(fields[1]))
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println(string(value))

		case "set":
			if !requireTx(tx) || !requireArgs(fields, 3) {
				continue
			}
			if err := tx.Set([]byte(fields[1]), []byte(fields[2])); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case "del":
			if !requireTx(tx) || !requireArgs(fields, 2) {
				continue
			}
			if err := tx.Delete([]byte(fields[1])); err != nil {
				fmt.Printf("error: %v\n", err)
			}

		case "scan":
			if !requireTx(tx) {
				continue
			}
			var lo, hi []byte
			if len(fields) > 1 {
				lo = []byte(fields[1])
			}
			if len(fields) > 2 {
				hi = []byte(fields[2])
			}
			kvs, err := tx.Scan(lo, hi)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			for _, kv := range kvs {
				fmt.Printf("%s = %s\n", kv.Key, kv.Value)
			}
			fmt.Printf("(%d rows)\n", len(kvs))

		case "commit":
			if !requireTx(tx) {
				continue
			}
			if err := tx.Commit(); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("committed")
			}
			tx = nil

		case "rollback":
			if !requireTx(tx) {
				continue
			}
			if err := tx.Rollback(); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("rolled back")
			}
			tx = nil

		case "checkpoint":
			if err := db.Checkpoint(); err != nil {
				fmt.Printf("error: %v\n", err)
			} else {
				fmt.Println("checkpoint written")
			}

		case "stats":
			s := db.Stats()
			fmt.Printf("active txns:  %d\n", s.ActiveTransactions)
			fmt.Printf("keys:         %d\n", s.Keys)
			fmt.Printf("locked keys:  %d\n", s.LockedKeys)
			fmt.Printf("commit ts:    %d\n", s.CommitTS)
			fmt.Printf("wal records:  %d\n", s.WALRecords)

		default:
			fmt.Printf("unknown command %q, .help for commands\n", fields[0])
		}
	}
}

func requireTx(tx *stratadb.Tx) bool {
	if tx == nil {
		fmt.Println("error: no open transaction, use begin")
		return false
	}
	return true
}

func requireArgs(fields []string, n int) bool {
	if len(fields) < n {
		fmt.Println("error: missing argument")
		return false
	}
	return true
}
