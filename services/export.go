package services

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"gainable/models"
)

const leadSheet = "Leads"

var leadColumns = []any{"ID", "Date", "Nom", "Email", "Téléphone", "Code postal", "Ville",
	"Adresse", "Projet", "Surface", "Message", "Experts", "Statut"}

// ExportLeadsXLSX writes leads to a single-sheet workbook.
func ExportLeadsXLSX(leads []models.Lead) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", leadSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(leadSheet, "A1", &leadColumns); err != nil {
		return nil, err
	}
	for i, l := range leads {
		d := l.Details.Data()
		var experts []string
		for _, a := range l.Assignments {
			if a.Expert != nil {
				experts = append(experts, a.Expert.Name)
			} else {
				experts = append(experts, fmt.Sprintf("#%d", a.ExpertID))
			}
		}
		row := []any{l.ID, l.CreatedAt.Format("2006-01-02 15:04"), l.Name, l.Email, l.Phone, l.PostalCode,
			l.City, l.Address, d.ProjectType, d.Surface, d.Message, strings.Join(experts, ", "), string(l.Status)}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(leadSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
