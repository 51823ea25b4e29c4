package rbac

import "github.com/naveen-disprz/formBuilderBackend/internal/schema"

// ResponseRef is the part of a response the access rules look at.
type ResponseRef struct {
	ID          string
	FormID      string
	SubmittedBy string
}

// CanViewForm reports whether role may see form. Deleted forms are never
// visible; learners only see published forms that are switched visible.
func CanViewForm(role Role, form schema.Form) bool {
	if form.IsDeleted {
		return false
	}
	if Privileged(role) {
		return true
	}
	return form.IsPublished && form.Visibility
}

// CanManageForm gates create/update/publish/delete. Any admin may manage any
// form; ownership is not consulted.
func CanManageForm(role Role) bool {
	return Can(role, ActionManageForms)
}

// CanViewResponse allows admins, the submitter and the owning form's creator.
// form may be nil when the form no longer exists.
func CanViewResponse(callerID string, role Role, response ResponseRef, form *schema.Form) bool {
	if Privileged(role) {
		return true
	}
	if callerID == "" {
		return false
	}
	if response.SubmittedBy == callerID {
		return true
	}
	return form != nil && form.CreatedBy == callerID
}

// CanViewFormResponses allows only the form's creator to list its responses.
func CanViewFormResponses(callerID string, form schema.Form) bool {
	return callerID != "" && form.CreatedBy == callerID
}

// CanViewFile applies the owning response's rules to an uploaded file.
func CanViewFile(callerID string, role Role, owner ResponseRef, form *schema.Form) bool {
	return CanViewResponse(callerID, role, owner, form)
}
