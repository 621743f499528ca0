package promotion

import "strings"

// TitleRule rewrites the display name of members holding a role. Rules
// are ordered; when a member holds several ruled roles the last match
// wins.
type TitleRule struct {
	RoleID string `json:"role_id"`
	Title  string `json:"title"`
}

// PrefixChanger rewrites display-name title blocks on role updates.
type PrefixChanger struct {
	Rules      []TitleRule
	Exceptions map[string]struct{}
}

func NewPrefixChanger(rules []TitleRule, exceptionRoles []string) *PrefixChanger {
	ex := make(map[string]struct{}, len(exceptionRoles))
	for _, r := range exceptionRoles {
		ex[r] = struct{}{}
	}
	return &PrefixChanger{Rules: rules, Exceptions: ex}
}

// title block delimiters recognised in display names.
var titleOpeners = []struct{ open, close string }{
	{"《", "》"},
	{"『", "』"},
}

// hasTitleBlock reports whether the name carries a recognised title.
func hasTitleBlock(name string) bool {
	for _, d := range titleOpeners {
		i := strings.Index(name, d.open)
		if i >= 0 && strings.Index(name[i:], d.close) > 0 {
			return true
		}
	}
	return false
}

// PureName strips any title block and leading sigils (& or !) from a
// display name.
func PureName(name string) string {
	for _, d := range titleOpeners {
		for {
			i := strings.Index(name, d.open)
			if i < 0 {
				break
			}
			j := strings.Index(name[i:], d.close)
			if j < 0 {
				break
			}
			name = name[:i] + name[i+j+len(d.close):]
		}
	}
	name = strings.TrimSpace(name)
	for len(name) > 0 && (name[0] == '&' || name[0] == '!') {
		name = strings.TrimSpace(name[1:])
	}
	return name
}

// Rewrite computes the member's new display name after a role change.
// changed is false when the member is exempt, carries no title block,
// or no rule matches their roles.
func (p *PrefixChanger) Rewrite(displayName string, roleIDs []string) (string, bool) {
	for _, r := range roleIDs {
		if _, exempt := p.Exceptions[r]; exempt {
			return displayName, false
		}
	}
	if !hasTitleBlock(displayName) {
		return displayName, false
	}

	held := make(map[string]struct{}, len(roleIDs))
	for _, r := range roleIDs {
		held[r] = struct{}{}
	}
	title := ""
	for _, rule := range p.Rules { // last match wins
		if _, ok := held[rule.RoleID]; ok {
			title = rule.Title
		}
	}
	if title == "" {
		return displayName, false
	}

	newName := "《 " + title + " 》 " + PureName(displayName)
	if newName == displayName {
		return displayName, false
	}
	return newName, true
}
