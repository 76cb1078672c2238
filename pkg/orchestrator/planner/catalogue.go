package planner

import (
	"fmt"
	"strings"

	"deskjarvis/agent/pkg/orchestrator/types"
)

// StepDoc documents one step type for the planning prompt.
type StepDoc struct {
	// Type is the wire value for Step.Type.
	Type string
	// Params is a compact signature, e.g. "path, content?". Optional
	// parameters carry a trailing question mark.
	Params string
	// Desc is a one-line description shown to the model.
	Desc string
}

// Family groups the step types dispatched to one executor.
type Family struct {
	Name  string
	Title string
	Steps []StepDoc
}

// Catalogue returns every step type the executors accept, grouped by
// family. The routing registry derives its dispatch table from this same
// data, so prompt and dispatcher cannot drift apart.
func Catalogue() []Family {
	return []Family{
		{
			Name:  types.FamilyFileManager,
			Title: "Filesystem",
			Steps: []StepDoc{
				{"file_create", "path, content?", "create a file, optionally with content"},
				{"file_read", "path", "read a file's content"},
				{"file_write", "path, content", "overwrite a file"},
				{"file_delete", "path", "delete a file (destructive)"},
				{"file_rename", "path, new_name", "rename a file"},
				{"file_move", "path, destination", "move a file"},
				{"file_copy", "path, destination", "copy a file"},
				{"file_organize", "directory, strategy?", "sort files into subfolders by type or date"},
				{"file_classify", "directory", "report how files in a directory group by kind"},
				{"file_batch_rename", "directory, pattern, template", "rename every matching file"},
				{"file_batch_copy", "paths, destination", "copy several files at once"},
				{"file_batch_organize", "directory", "organize a directory tree recursively"},
				{"list_dir", "path", "list directory entries"},
				{"create_file", "path, content?", "alias of file_create"},
				{"read_file", "path", "alias of file_read"},
				{"delete_file", "path", "alias of file_delete (destructive)"},
			},
		},
		{
			Name:  types.FamilyBrowser,
			Title: "Browser",
			Steps: []StepDoc{
				{"browser_navigate", "url", "open a page"},
				{"browser_click", "selector | x, y", "click an element by CSS selector or viewport coordinates"},
				{"browser_fill", "selector | x, y, value", "fill an input"},
				{"browser_wait", "selector, timeout?", "wait for an element to appear"},
				{"browser_screenshot", "save_path?", "capture the current page"},
				{"browser_check_element", "selector", "report whether an element exists"},
				{"download_file", "url, save_path", "download a URL to disk"},
				{"request_login", "site", "pause and ask the user to log in"},
				{"request_captcha", "", "pause and ask the user to solve a captcha"},
				{"request_qr_login", "site", "pause and ask the user to scan a QR code"},
				{"open_url", "url", "alias of browser_navigate"},
				{"click", "selector | x, y", "alias of browser_click"},
				{"type", "selector, value", "alias of browser_fill"},
				{"scroll", "direction, amount?", "scroll the page"},
				{"scrape", "selector?", "extract text or structured data from the page"},
				{"screenshot_web", "save_path?", "alias of browser_screenshot"},
			},
		},
		{
			Name:  types.FamilySystemTools,
			Title: "System",
			Steps: []StepDoc{
				{"screenshot_desktop", "save_path?", "capture the whole screen"},
				{"open_app", "app_name", "launch an application"},
				{"close_app", "app_name", "quit an application"},
				{"set_volume", "level", "set system volume, 0-100"},
				{"set_brightness", "level", "set display brightness, 0-100"},
				{"get_system_info", "", "report CPU, memory and disk usage"},
				{"open_folder", "path", "reveal a folder in the file manager"},
				{"open_file", "path", "open a file with its default application"},
				{"text_process", "text, action, target_lang?", "translate, summarize or polish text"},
				{"execute_python_script", "code", "run a sandboxed Python snippet"},
				{"python_script", "code", "alias of execute_python_script"},
				{"python", "code", "alias of execute_python_script"},
				{"code_interpreter", "code", "alias of execute_python_script"},
				{"visual_assist", "query", "answer a question about what is on screen"},
				{"clipboard_read", "", "read the clipboard"},
				{"clipboard_write", "text", "write to the clipboard"},
				{"keyboard_type", "text", "type text at the current cursor"},
				{"mouse_click", "x, y", "click at screen coordinates"},
				{"reminder_add", "message, trigger_time | delay, repeat?, command?", "schedule a reminder; repeat is none, hourly, daily or weekly"},
				{"reminder_cancel", "id", "cancel a reminder"},
				{"reminder_list", "", "list pending reminders"},
				{"workflow_save", "name, commands, description?", "save a reusable command sequence"},
				{"workflow_delete", "name", "delete a saved workflow"},
				{"workflow_list", "", "list saved workflows"},
				{"workflow_run", "name", "run a saved workflow"},
				{"history_list", "limit?", "list recent tasks"},
				{"history_search", "keyword", "search task history"},
				{"history_clear", "", "clear task history (destructive)"},
				{"favorite_add", "instruction", "save an instruction as a favorite"},
				{"favorite_remove", "instruction", "remove a favorite"},
				{"favorite_list", "", "list favorites"},
			},
		},
		{
			Name:  types.FamilyEmail,
			Title: "Email",
			Steps: []StepDoc{
				{"send_email", "to, subject, body, attachments?", "send an email (sensitive)"},
				{"search_emails", "query, folder?, limit?", "search the mailbox"},
				{"get_email_details", "email_id", "fetch one email's full content"},
				{"download_attachments", "email_id, save_dir?", "save an email's attachments"},
				{"manage_emails", "action, email_ids", "mark, move or delete emails"},
				{"compress_files", "paths, archive_path", "zip files, e.g. before attaching"},
			},
		},
	}
}

// RenderCatalogue formats the catalogue for the system prompt.
func RenderCatalogue() string {
	var b strings.Builder
	for _, fam := range Catalogue() {
		fmt.Fprintf(&b, "### %s (%s)\n", fam.Title, fam.Name)
		for _, s := range fam.Steps {
			if s.Params == "" {
				fmt.Fprintf(&b, "- %s: %s\n", s.Type, s.Desc)
			} else {
				fmt.Fprintf(&b, "- %s {%s}: %s\n", s.Type, s.Params, s.Desc)
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// RoutingTable maps every catalogued step type to its executor family.
func RoutingTable() map[string]string {
	table := make(map[string]string, 64)
	for _, fam := range Catalogue() {
		for _, s := range fam.Steps {
			table[s.Type] = fam.Name
		}
	}
	return table
}
