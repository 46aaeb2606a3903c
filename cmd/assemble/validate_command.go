package main

import (
	"fmt"

	"github.com/nextconvert/assembler/internal/modules/animation"
	"github.com/spf13/cobra"
)

func newValidateAnimationCommand() *cobra.Command {
	var animType, intensity string

	cmd := &cobra.Command{
		Use:         "validate-animation",
		Short:       "Check an animation type and intensity pair",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := animation.Validate(animation.Type(animType), animation.Intensity(intensity)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is valid\n", animType, intensity)
			return nil
		},
	}

	cmd.Flags().StringVar(&animType, "type", "", fmt.Sprintf("Animation type %v", animation.Types()))
	cmd.Flags().StringVar(&intensity, "intensity", string(animation.Moderate), fmt.Sprintf("Intensity %v", animation.Intensities()))
	_ = cmd.MarkFlagRequired("type")

	return cmd
}
