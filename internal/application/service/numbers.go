package service

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
)

func shortID(n int) string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}

// documentNumber formats PO-20260115-1A2B3C style numbers
func documentNumber(prefix string, now time.Time) string {
	return prefix + "-" + now.Format("20060102") + "-" + shortID(6)
}

func itemNumber() string {
	return "MI-" + shortID(8)
}

func allocationNumber() string {
	return "AL-" + shortID(8)
}

var barcodePrefixes = map[entity.MaterialStage]string{
	entity.StageRawMaterial:   "RM",
	entity.StageWIP:           "WIP",
	entity.StageFinishedGoods: "FG",
}

func barcodeValue(stage entity.MaterialStage) string {
	return barcodePrefixes[stage] + "-" + strings.ToUpper(uuid.NewString())
}
