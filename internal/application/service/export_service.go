package service

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/workflow"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
)

const (
	sheetNodes    = "Approval"
	sheetTimeline = "Timeline"
	timeLayout    = "2006-01-02 15:04:05"
)

// ApprovalSheetSource reads what an approval sheet shows
type ApprovalSheetSource interface {
	GetInstance(ctx context.Context, instanceID int64) (*workflow.InstanceDetail, error)
	Timeline(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error)
}

// ExportService renders instances as spreadsheets
type ExportService interface {
	// ExportApprovalSheet writes an XLSX workbook with the node table and the decision log
	ExportApprovalSheet(ctx context.Context, instanceID int64, w io.Writer) error
}

type exportServiceImpl struct {
	source ApprovalSheetSource
	logger Logger
}

// NewExportService creates a new ExportService
func NewExportService(source ApprovalSheetSource, logger Logger) ExportService {
	return &exportServiceImpl{source: source, logger: logger}
}

func (s *exportServiceImpl) ExportApprovalSheet(ctx context.Context, instanceID int64, w io.Writer) error {
	detail, err := s.source.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	timeline, err := s.source.Timeline(ctx, instanceID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetNodes); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetTimeline); err != nil {
		return fmt.Errorf("create timeline sheet: %w", err)
	}

	if err := writeNodeSheet(f, detail); err != nil {
		return err
	}
	if err := writeTimelineSheet(f, timeline); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		s.logger.Error("Failed to write approval sheet", "error", err, "instance_id", instanceID)
		return fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("Approval sheet exported",
		"instance_id", instanceID,
		"nodes", len(detail.Processes),
		"log_entries", len(timeline),
	)
	return nil
}

func writeNodeSheet(f *excelize.File, detail *workflow.InstanceDetail) error {
	inst := detail.Instance
	header := [][]interface{}{
		{"Business", fmt.Sprintf("%s #%d", inst.BusinessType, inst.BusinessID)},
		{"Title", inst.BusinessTitle},
		{"Status", string(inst.Status)},
		{"Created", inst.CreatedAt.Format(timeLayout)},
		{},
		{"#", "Node", "Assignee", "Action", "Processor", "Comment", "Processed at"},
	}
	row := 1
	for _, values := range header {
		if err := setRow(f, sheetNodes, row, values); err != nil {
			return err
		}
		row++
	}

	for _, p := range detail.Processes {
		processedAt := ""
		if p.ProcessedAt != nil {
			processedAt = p.ProcessedAt.Format(timeLayout)
		}
		marker := strconv.Itoa(p.NodeIndex)
		if inst.IsPending() && p.NodeIndex == inst.CurrentNodeIndex {
			marker += " *"
		}
		values := []interface{}{marker, p.NodeName, p.AssigneeID, string(p.Action), p.ProcessorID, p.Comment, processedAt}
		if err := setRow(f, sheetNodes, row, values); err != nil {
			return err
		}
		row++
	}
	return nil
}

func writeTimelineSheet(f *excelize.File, logs []*entity.ProcessLog) error {
	if err := setRow(f, sheetTimeline, 1, []interface{}{"Time", "Node", "Action", "Actor", "Comment", "Back to"}); err != nil {
		return err
	}
	for i, l := range logs {
		backTo := ""
		if l.BackToNodeIndex != nil {
			backTo = strconv.Itoa(*l.BackToNodeIndex)
		}
		values := []interface{}{l.CreatedAt.Format(timeLayout), l.NodeIndex, string(l.Action), l.ActorID, l.Comment, backTo}
		if err := setRow(f, sheetTimeline, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("set %s row %d: %w", sheet, row, err)
	}
	return nil
}
