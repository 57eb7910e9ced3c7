package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/kinloop/kinloop/internal/reports"
)

var reasonChoices = []reports.Reason{
	reports.ReasonHarassment,
	reports.ReasonSpam,
	reports.ReasonInappropriate,
	reports.ReasonIllegal,
	reports.ReasonOther,
}

var actionChoices = []reports.Action{
	reports.ActionNone,
	reports.ActionReportOnly,
	reports.ActionUnfollow,
	reports.ActionBlock,
	reports.ActionDeleted,
	reports.ActionConversationHad,
}

func (a *App) submitReport(ctx context.Context) {
	videoID, err := GetSimpleText(a.reader, "Video id", os.Stdout)
	if err != nil || videoID == "" {
		fmt.Println("Cancelled.")
		return
	}

	if _, err := a.videos.GroupForVideo(ctx, videoID); err != nil {
		groupID, err := GetSimpleText(a.reader, "Group id for this video", os.Stdout)
		if err != nil || groupID == "" {
			fmt.Println("Cancelled.")
			return
		}
		a.videos.Register(videoID, groupID)
	}

	subject, err := GetSimpleText(a.reader, "Subject child", os.Stdout)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Println("Reasons:")
	for i, r := range reasonChoices {
		fmt.Printf("  %d. %s\n", i+1, r)
	}
	reason := pickChoice(a, "Reason number", reasonChoices, reports.ReasonOther)

	note, err := GetSimpleText(a.reader, "Note (optional)", os.Stdout)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	levelText, err := GetSimpleText(a.reader, "Level: 1=peer 2=parent 3=moderator", os.Stdout)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	levelNum, err := strconv.Atoi(levelText)
	if err != nil {
		fmt.Println("Not a number.")
		return
	}

	fmt.Println("Actions:")
	for i, ac := range actionChoices {
		fmt.Printf("  %d. %s\n", i+1, ac)
	}
	action := pickChoice(a, "Action number", actionChoices, reports.ActionNone)

	report, err := a.coordinator.Submit(ctx, reports.SubmitRequest{
		VideoID:      videoID,
		SubjectChild: subject,
		Reason:       reason,
		Note:         note,
		Level:        reports.Level(levelNum),
		Action:       action,
	})
	if err != nil {
		if report != nil {
			fmt.Printf("Report %s saved but not delivered: %v\n", report.ID, err)
		} else {
			fmt.Println("Report failed:", err)
		}
		return
	}
	fmt.Printf("Report %s submitted (%s, %s)\n", report.ID, report.Status, report.RecipientClass)
}

func pickChoice[T any](a *App, prompt string, choices []T, fallback T) T {
	text, err := GetSimpleText(a.reader, prompt, os.Stdout)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(choices) {
		return fallback
	}
	return choices[n-1]
}

func (a *App) like(ctx context.Context, videoID, child string) {
	if _, err := a.videos.GroupForVideo(ctx, videoID); err != nil {
		fmt.Println("Unknown video; report it once or register it via 'report' first.")
		return
	}
	if err := a.coordinator.Like(ctx, videoID, child); err != nil {
		fmt.Println("Like failed:", err)
		return
	}
	fmt.Println("Liked.")
}

func (a *App) showAudit(ctx context.Context, n int) {
	entries, err := a.trail.Recent(ctx, n)
	if err != nil {
		fmt.Println("Error reading audit trail:", err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("Audit trail is empty.")
		return
	}
	for _, e := range entries {
		target := ""
		if e.TargetID != "" {
			target = fmt.Sprintf(" %s=%s", e.TargetType, e.TargetID)
		}
		fmt.Printf("%s  %-22s actor=%s%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, shortKey(e.Actor), target)
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12] + "…"
	}
	return key
}
