package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"nyiyui.ca/hato/shingo/savestore"
)

var dbPath string
var save string
var mode string
var keep int

func main() {
	flag.StringVar(&dbPath, "db-path", "./shingo.db", "path to database")
	flag.StringVar(&save, "save", "", "save ID to use")
	flag.StringVar(&mode, "mode", "list", "list, check, dump, delete or prune")
	flag.IntVar(&keep, "keep", 10, "saves to keep when pruning")
	flag.Parse()

	err := main2()
	if err != nil {
		log.Fatal(err)
	}
}

func main2() error {
	s, err := savestore.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()
	switch mode {
	case "list":
		ms, err := s.List()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, m := range ms {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
	case "check":
		broken, err := s.Check()
		if err != nil {
			return err
		}
		for _, id := range broken {
			fmt.Println(id)
		}
		if len(broken) > 0 {
			return fmt.Errorf("%d broken saves", len(broken))
		}
		log.Printf("ok")
	case "dump", "delete":
		id, err := uuid.Parse(save)
		if err != nil {
			return fmt.Errorf("save %q: %w", save, err)
		}
		if mode == "delete" {
			return s.Delete(id)
		}
		_, data, err := s.Get(id)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	case "prune":
		n, err := s.Prune(keep)
		if err != nil {
			return err
		}
		log.Printf("deleted %d saves", n)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}
