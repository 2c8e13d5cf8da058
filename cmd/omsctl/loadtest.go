package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	omsv1 "github.com/vladislavdragonenkov/storefront/api/oms/v1"
	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

type loadOptions struct {
	addr        string
	userID      int64
	productID   int64
	quantity    int64
	requests    int
	concurrency int
	timeout     time.Duration
}

func (o loadOptions) validate() error {
	switch {
	case o.userID <= 0 || o.productID <= 0:
		return errors.New("user and product must be > 0")
	case o.quantity <= 0:
		return errors.New("quantity must be > 0")
	case o.requests <= 0:
		return errors.New("requests must be > 0")
	case o.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case o.timeout <= 0:
		return errors.New("timeout must be > 0")
	}
	return nil
}

// loadReport — итог прогона: сколько заказов создано и чем закончились остальные.
type loadReport struct {
	Requests          int
	Succeeded         int
	InsufficientStock int
	Failed            int
	// Codes — число ответов по стабильному коду ошибки (x-error-code) или gRPC-коду.
	Codes    map[string]int
	Duration time.Duration
}

func (r loadReport) write(out io.Writer) error {
	_, err := fmt.Fprintf(out, "requests=%d succeeded=%d insufficient_stock=%d failed=%d duration=%s\n",
		r.Requests, r.Succeeded, r.InsufficientStock, r.Failed, r.Duration.Round(time.Millisecond))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(r.Codes))
	for name := range r.Codes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := fmt.Fprintf(out, "  %s=%d\n", name, r.Codes[name]); err != nil {
			return err
		}
	}
	return nil
}

func newLoadtestCmd(cfg app.Config) *cobra.Command {
	opts := loadOptions{
		addr:        dialAddr(cfg.GRPCAddr),
		userID:      1,
		productID:   1,
		quantity:    1,
		requests:    100,
		concurrency: 20,
		timeout:     5 * time.Second,
	}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Fire concurrent CreateOrder calls against one product",
		Long: "Sends --requests CreateOrder calls with --concurrency workers. With stock S and quantity 1\n" +
			"exactly S calls must succeed and the rest must fail with INSUFFICIENT_STOCK.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			conn, err := grpc.NewClient(opts.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("create grpc client: %w", err)
			}
			defer func() { _ = conn.Close() }()

			report := runLoad(cmd.Context(), omsv1.NewOrderServiceClient(conn), opts)
			if err := report.write(cmd.OutOrStdout()); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d requests failed with unexpected errors", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", opts.addr, "gRPC target address")
	cmd.Flags().Int64Var(&opts.userID, "user", opts.userID, "user id")
	cmd.Flags().Int64Var(&opts.productID, "product", opts.productID, "product id")
	cmd.Flags().Int64Var(&opts.quantity, "quantity", opts.quantity, "quantity per order")
	cmd.Flags().IntVar(&opts.requests, "requests", opts.requests, "total CreateOrder calls")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", opts.concurrency, "number of concurrent workers")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", opts.timeout, "per-RPC timeout")
	return cmd
}

// dialAddr превращает адрес прослушивания вида ":50051" в адрес для клиента.
func dialAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "localhost" + listen
	}
	return listen
}

// runLoad выполняет opts.requests вызовов CreateOrder и сводит результаты.
func runLoad(ctx context.Context, client omsv1.OrderServiceClient, opts loadOptions) loadReport {
	report := loadReport{Requests: opts.requests, Codes: make(map[string]int)}
	var mu sync.Mutex

	jobs := make(chan struct{})
	var wg sync.WaitGroup
	started := time.Now()
	for i := 0; i < opts.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				code := createOnce(ctx, client, opts)
				mu.Lock()
				switch code {
				case "":
					report.Succeeded++
				case string(domain.CodeInsufficientStock):
					report.InsufficientStock++
					report.Codes[code]++
				default:
					report.Failed++
					report.Codes[code]++
				}
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < opts.requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()

	report.Duration = time.Since(started)
	return report
}

// createOnce возвращает пустую строку при успехе, иначе код ошибки.
func createOnce(ctx context.Context, client omsv1.OrderServiceClient, opts loadOptions) string {
	callCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	callCtx = metadata.AppendToOutgoingContext(callCtx, grpcsvc.IdempotencyKeyHeader, uuid.NewString())

	var trailer metadata.MD
	_, err := client.CreateOrder(callCtx, &omsv1.CreateOrderRequest{
		UserId:    opts.userID,
		ProductId: opts.productID,
		Quantity:  opts.quantity,
	}, grpc.Trailer(&trailer))
	if err == nil {
		return ""
	}
	if values := trailer.Get(grpcsvc.ErrorCodeTrailer); len(values) > 0 {
		return values[0]
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return st.Code().String()
	}
	return codes.Unknown.String()
}
