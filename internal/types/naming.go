package types

import (
	"path/filepath"
	"regexp"
	"strings"
)

// WorktreesDirName is the directory under the main checkout that holds all
// laneway-managed worktrees.
const WorktreesDirName = ".worktrees"

// Branch and worktree naming conventions. These are load-bearing: orphan
// detection and worktree-name decoding both parse them back.
//
//	permanent work branch   lane/<lane-kebab>/<wu-id-lower>
//	ephemeral op branch     tmp/<operation>/<wu-id-lower>
//	worktree directory      <lane-kebab>-<wu-id-lower>

var kebabCleanup = regexp.MustCompile(`[^a-z0-9]+`)

// KebabLane converts a free-text lane name to its kebab-case form used in
// branch and directory names.
func KebabLane(lane string) string {
	k := kebabCleanup.ReplaceAllString(strings.ToLower(lane), "-")
	return strings.Trim(k, "-")
}

// LaneBranch returns the permanent work branch for a WU.
func LaneBranch(lane, wuID string) string {
	return "lane/" + KebabLane(lane) + "/" + strings.ToLower(NormalizeID(wuID))
}

// TempBranch returns the ephemeral branch for a short-lived metadata
// operation on a WU.
func TempBranch(operation, wuID string) string {
	return "tmp/" + operation + "/" + strings.ToLower(NormalizeID(wuID))
}

// WorktreeDirName returns the directory name for a WU's worktree.
func WorktreeDirName(lane, wuID string) string {
	return KebabLane(lane) + "-" + strings.ToLower(NormalizeID(wuID))
}

// WorktreePath returns the expected worktree location for a WU under the
// main checkout.
func WorktreePath(mainCheckoutPath, lane, wuID string) string {
	return filepath.Join(mainCheckoutPath, WorktreesDirName, WorktreeDirName(lane, wuID))
}

var worktreeNamePattern = regexp.MustCompile(`^(.+)-(wu-\d+)$`)

// ParseWorktreeDirName decodes a worktree directory name back into its
// lane-kebab and WU id parts. Returns ok=false for names that don't follow
// the convention.
func ParseWorktreeDirName(name string) (laneKebab, wuID string, ok bool) {
	m := worktreeNamePattern.FindStringSubmatch(strings.ToLower(name))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.ToUpper(m[2]), true
}
