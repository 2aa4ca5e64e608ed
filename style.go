package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render

	subtle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}).Render
	warning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1C40F")).Render
	danger    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true).Render
	heading   = lipgloss.NewStyle().Bold(true).Render
	labelCell = lipgloss.NewStyle().Width(14).Render
)
