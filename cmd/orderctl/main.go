// orderctl is the operator's journal inspector: list recent orders or dump
// the recorded fills of one order.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/openintents/settler/internal/journal"
)

func main() {
	path := flag.String("journal", "settler.db", "path to the settler journal")
	orderID := flag.String("order", "", "order id to inspect (lists recent orders when empty)")
	limit := flag.Int("limit", 20, "number of recent orders to list")
	flag.Parse()

	j, err := journal.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}
	defer j.Close() //nolint:errcheck

	if *orderID == "" {
		listRecent(j, *limit)
		return
	}
	showOrder(j, *orderID)
}

func listRecent(j *journal.Journal, limit int) {
	orders, err := j.RecentOrders(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list orders: %v\n", err)
		os.Exit(1)
	}
	for _, o := range orders {
		fmt.Printf("%s  %-10s  user=%s  chain=%s  expires=%d\n",
			o.OrderID, o.Status, o.User, o.OriginChain, o.Expires)
	}
}

func showOrder(j *journal.Journal, orderID string) {
	o, err := j.OrderByID(orderID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "order %s: %v\n", orderID, err)
		os.Exit(1)
	}
	fmt.Printf("order:         %s\n", o.OrderID)
	fmt.Printf("status:        %s\n", o.Status)
	fmt.Printf("user:          %s\n", o.User)
	fmt.Printf("origin chain:  %s\n", o.OriginChain)
	fmt.Printf("expires:       %d\n", o.Expires)
	fmt.Printf("fill deadline: %d\n", o.FillDeadline)

	fills, err := j.FillsByOrder(orderID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fills: %v\n", err)
		os.Exit(1)
	}
	for _, f := range fills {
		fmt.Printf("fill[%d]: solver=%s at=%d payload=%s\n",
			f.OutputIndex, f.Solver, f.Timestamp, f.PayloadHash)
	}
}
