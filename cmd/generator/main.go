package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"pinabook/internal/app"
	"pinabook/internal/config"
	apperrors "pinabook/internal/errors"
	"pinabook/internal/logger"
	"pinabook/internal/models"
	"pinabook/internal/service"
)

var (
	affiliateCount = flag.Int("affiliates", 5, "Number of demo affiliates to register")
	facilityCount  = flag.Int("facilities", 3, "Facilities per affiliate")
	dryRun         = flag.Bool("dry-run", false, "Show what would be generated without making changes")
)

var (
	namePrefixes = []string{"Casa", "Villa", "Finca", "Quinta", "Rancho"}
	nameSuffixes = []string{"Verde", "del Sol", "Azul", "Palmera", "Serena", "del Mar"}
	amenityPool  = []string{"pool", "wifi", "grill", "parking", "kids pool", "karaoke", "videoke", "cottage"}
)

// placeholderImage is a 1x1 transparent GIF.
var placeholderImage = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type FacilityGenerator struct {
	services *service.Services
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting facility generator...")

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	generator := &FacilityGenerator{services: a.Services}

	if err := generator.Generate(ctx); err != nil {
		slog.Error("Failed to generate facilities", "error", err)
		a.Close()
		os.Exit(1)
	}

	slog.Info("Facility generation completed successfully!")
}

func (g *FacilityGenerator) Generate(ctx context.Context) error {
	for i := 1; i <= *affiliateCount; i++ {
		affiliateID := fmt.Sprintf("demo-affiliate-%03d", i)
		if err := g.generateForAffiliate(ctx, affiliateID); err != nil {
			slog.Error("Failed to generate facilities for affiliate", "affiliate_id", affiliateID, "error", err)
			continue
		}
	}
	return nil
}

func (g *FacilityGenerator) generateForAffiliate(ctx context.Context, affiliateID string) error {
	existing, err := g.services.Affiliates.Get(ctx, affiliateID)
	if err != nil && apperrors.KindOf(err) != apperrors.KindNotFound {
		return fmt.Errorf("failed to check affiliate: %w", err)
	}
	if existing != nil {
		slog.Info("Affiliate already exists, skipping", "affiliate_id", affiliateID)
		return nil
	}

	if *dryRun {
		slog.Info("[DRY RUN] Would register affiliate", "affiliate_id", affiliateID, "facilities", *facilityCount)
		return nil
	}

	if _, err := g.services.Affiliates.Register(ctx, affiliateID, "Demo "+affiliateID); err != nil {
		return fmt.Errorf("failed to register affiliate: %w", err)
	}

	for n := 0; n < *facilityCount; n++ {
		facility, err := g.services.Catalog.CreateFacility(ctx, affiliateID, g.randomDraft())
		if err != nil {
			return fmt.Errorf("failed to create facility: %w", err)
		}
		slog.Info("Generated facility", "affiliate_id", affiliateID, "facility_id", facility.ID, "name", facility.Name)
	}
	return nil
}

func (g *FacilityGenerator) randomDraft() *models.FacilityDraft {
	tier := rand.IntN(3)
	day := g.tourPrice(tier, 1500)
	night := g.tourPrice(tier, 2500)
	child := decimal.NewFromInt(int64(50 + 25*tier))
	adult := child.Mul(decimal.NewFromInt(2))

	return &models.FacilityDraft{
		Name:             namePrefixes[rand.IntN(len(namePrefixes))] + " " + nameSuffixes[rand.IntN(len(nameSuffixes))],
		Description:      "Private resort for day and night tours",
		Amenities:        g.amenities(),
		DayTour:          &models.TourPriceInput{StartTime: "08:00", Price: &day},
		NightTour:        &models.TourPriceInput{StartTime: "19:00", Price: &night},
		ChildEntranceFee: &child,
		AdultEntranceFee: &adult,
		Images:           []models.ImageInput{{Data: placeholderImage, ContentType: "image/gif"}},
	}
}

// tourPrice растет с уровнем объекта
func (g *FacilityGenerator) tourPrice(tier int, base int64) decimal.Decimal {
	switch tier {
	case 2:
		return decimal.NewFromInt(base + int64(rand.IntN(3000)+2000))
	case 1:
		return decimal.NewFromInt(base + int64(rand.IntN(2000)+1000))
	default:
		return decimal.NewFromInt(base + int64(rand.IntN(1000)))
	}
}

func (g *FacilityGenerator) amenities() []string {
	picked := rand.Perm(len(amenityPool))[:rand.IntN(4)+1]
	out := make([]string, 0, len(picked))
	for _, i := range picked {
		out = append(out, amenityPool[i])
	}
	return out
}
