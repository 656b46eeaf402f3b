package command

import (
	"fmt"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/spf13/cobra"
)

// NewVisibleCmd 判斷瀏覽者是否看得到商品
func NewVisibleCmd() *cobra.Command {
	var (
		tierName string
		item     listing.Location
		viewer   listing.Location
	)

	cmd := &cobra.Command{
		Use:     "visible",
		Short:   "Check whether a viewer can see a listing",
		Example: `  rankctl visible --tier province --province Архангай --settlement Тариат --viewer-province Архангай`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := listing.ParseTier(tierName)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), ranking.IsVisible(item, viewer, t))
			return nil
		},
	}

	cmd.Flags().StringVar(&tierName, "tier", string(listing.TierSettlement), "listing tier: settlement, province or national")
	cmd.Flags().StringVar(&item.Province, "province", "", "listing province (aimag)")
	cmd.Flags().StringVar(&item.Settlement, "settlement", "", "listing settlement (sum)")
	cmd.Flags().StringVar(&viewer.Province, "viewer-province", "", "viewer province")
	cmd.Flags().StringVar(&viewer.Settlement, "viewer-settlement", "", "viewer settlement")

	return cmd
}
