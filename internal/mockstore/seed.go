package mockstore

import (
	"strconv"
	"time"
)

func seed(now time.Time) *state {
	st := &state{
		Tickets:    map[string]*Ticket{},
		Pages:      map[string]*Page{},
		Counters:   map[string]int{},
		NextPageID: firstPageID,
	}
	addTicket := func(project string, n int, summary, description, status, assignee, issueType string) {
		st.Seq++
		key := project + "-" + strconv.Itoa(n)
		st.Tickets[key] = &Ticket{
			Key: key, Project: project, Summary: summary, Description: description,
			Status: status, Assignee: assignee, IssueType: issueType,
			Seq: st.Seq, CreatedAt: now, UpdatedAt: now,
		}
		if st.Counters[project] < n {
			st.Counters[project] = n
		}
	}
	addPage := func(id int, space, title, body, parent string) {
		st.Seq++
		sid := strconv.Itoa(id)
		st.Pages[sid] = &Page{
			ID: sid, SpaceKey: space, Title: title, Body: body, ParentID: parent,
			Version: 1, Seq: st.Seq, CreatedAt: now, UpdatedAt: now,
		}
	}

	addTicket("PROJ", 123, "This is a sample ticket summary from mock mode.",
		"Sample ticket used to exercise the bot without Atlassian credentials.", "In Progress", "Mock User", "Task")
	addTicket("PROJ", 124, "Login page returns 500 on invalid password",
		"Submitting the login form with a wrong password shows a server error instead of a validation message.", "To Do", unassigned, "Bug")
	addTicket("PROJ", 125, "Update onboarding guide for new hires",
		"Refresh the onboarding checklist and link it from the Engineering space.", "Done", "Jane Doe", "Story")
	addTicket("OPS", 7, "Rotate database credentials",
		"Quarterly rotation of the primary database password.", "In Progress", "Ops Bot", "Task")

	addPage(1001, "ENG", "Engineering Onboarding",
		"Welcome to the team. Set up your laptop, request repository access and read the incident runbook.", "")
	addPage(1002, "ENG", "Incident Runbook",
		"Page the on-call engineer, open an incident channel and record a timeline.", "1001")
	addPage(2001, "OPS", "On-call Rotation",
		"The on-call rotation changes every Monday at 09:00 UTC.", "")

	return st
}
