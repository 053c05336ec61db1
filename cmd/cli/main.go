// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiURL, user, token string
	root := &cobra.Command{
		Use:           "upvote",
		Short:         "Command line client for the upvote commerce API",
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&apiURL, "api", envOr("UPVOTE_API_URL", defaultAPIURL), "commerce API base URL")
	root.PersistentFlags().StringVar(&user, "user", os.Getenv("UPVOTE_USER"), "user id sent as X-User-ID")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("UPVOTE_TOKEN"), "JWT bearer token, overrides --user")

	client := func() *apiClient { return newAPIClient(apiURL, user, token) }
	run := func(method string, path func(args []string) string, body func(cmd *cobra.Command, args []string) (interface{}, error)) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			var payload interface{}
			if body != nil {
				b, err := body(cmd, args)
				if err != nil {
					return err
				}
				payload = b
			}
			out, err := client().call(method, path(args), payload)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), out)
			return nil
		}
	}
	static := func(p string) func([]string) string { return func([]string) string { return p } }
	byID := func(prefix, suffix string) func([]string) string {
		return func(args []string) string { return prefix + args[0] + suffix }
	}

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Show commerce service health",
		Args:  cobra.NoArgs,
		RunE:  run(resty.MethodGet, static("/api/health"), nil),
	})
	root.AddCommand(&cobra.Command{
		Use:   "limits",
		Short: "Show order quantity and rate limits",
		Args:  cobra.NoArgs,
		RunE:  run(resty.MethodGet, static("/api/settings/limits"), nil),
	})
	root.AddCommand(&cobra.Command{
		Use:   "balance",
		Short: "Show account balance",
		Args:  cobra.NoArgs,
		RunE:  run(resty.MethodGet, static("/api/balance"), nil),
	})

	orders := &cobra.Command{Use: "orders", Short: "Manage orders"}
	orders.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your orders",
		Args:  cobra.NoArgs,
		RunE:  run(resty.MethodGet, static("/api/orders"), nil),
	})
	orders.AddCommand(&cobra.Command{
		Use:   "create <target_reference> <quantity> <rate>",
		Short: "Create an order",
		Args:  cobra.ExactArgs(3),
		RunE: run(resty.MethodPost, static("/api/orders"), func(cmd *cobra.Command, args []string) (interface{}, error) {
			quantity, rate, err := quantityRate(args[1], args[2])
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"target_reference": args[0], "quantity": quantity, "rate": rate}, nil
		}),
	})
	for _, a := range []struct{ use, short, method, suffix string }{
		{"get", "Show one order", resty.MethodGet, ""},
		{"cancel", "Cancel an order", resty.MethodDelete, ""},
		{"retry", "Retry a failed order", resty.MethodPost, "/retry"},
		{"pause", "Pause a pending order", resty.MethodPost, "/pause"},
		{"resume", "Resume a paused order", resty.MethodPost, "/resume"},
	} {
		orders.AddCommand(&cobra.Command{
			Use:   a.use + " <id>",
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE:  run(a.method, byID("/api/orders/", a.suffix), nil),
		})
	}
	root.AddCommand(orders)

	auto := &cobra.Command{Use: "auto-orders", Short: "Manage recurring orders"}
	auto.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recurring orders",
		Args:  cobra.NoArgs,
		RunE:  run(resty.MethodGet, static("/api/auto-orders"), nil),
	})
	auto.AddCommand(&cobra.Command{
		Use:   "create <target_reference> <quantity> <rate> <daily|weekly|monthly>",
		Short: "Create a recurring order",
		Args:  cobra.ExactArgs(4),
		RunE: run(resty.MethodPost, static("/api/auto-orders"), func(cmd *cobra.Command, args []string) (interface{}, error) {
			quantity, rate, err := quantityRate(args[1], args[2])
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"target_reference": args[0], "quantity": quantity, "rate": rate, "frequency": args[3]}, nil
		}),
	})
	for _, a := range []struct{ use, short, method, suffix string }{
		{"pause", "Pause a recurring order", resty.MethodPost, "/pause"},
		{"resume", "Resume a recurring order", resty.MethodPost, "/resume"},
		{"cancel", "Cancel a recurring order", resty.MethodDelete, ""},
	} {
		auto.AddCommand(&cobra.Command{
			Use:   a.use + " <id>",
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE:  run(a.method, byID("/api/auto-orders/", a.suffix), nil),
		})
	}
	root.AddCommand(auto)

	payments := &cobra.Command{Use: "payments", Short: "Manage top-up payments"}
	payments.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List payments",
		Args:  cobra.NoArgs,
		RunE:  run(resty.MethodGet, static("/api/payments"), nil),
	})
	payments.AddCommand(&cobra.Command{
		Use:   "create <amount>",
		Short: "Create a top-up payment and print its checkout URL",
		Args:  cobra.ExactArgs(1),
		RunE: run(resty.MethodPost, static("/api/payments"), func(cmd *cobra.Command, args []string) (interface{}, error) {
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid amount %q", args[0])
			}
			return map[string]interface{}{"amount": amount}, nil
		}),
	})
	root.AddCommand(payments)
	return root
}

func quantityRate(q, r string) (int, int, error) {
	quantity, err := strconv.Atoi(q)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid quantity %q", q)
	}
	rate, err := strconv.Atoi(r)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid rate %q", r)
	}
	return quantity, rate, nil
}
