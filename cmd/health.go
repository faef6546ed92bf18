package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ys7zTS/sandbox/service/rpc"
)

var healthCmd = &cobra.Command{
	Use:   "health [target]",
	Short: "Query the gRPC health service of a running sandbox",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "127.0.0.1:50051"
		if len(args) == 1 {
			target = args[0]
		}
		st, err := rpc.Check(cmd.Context(), target, rpc.ServiceName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.String())
		if st != healthpb.HealthCheckResponse_SERVING {
			return errors.Errorf("%s is %s", target, st)
		}
		return nil
	},
}
