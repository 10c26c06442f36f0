package services

import (
	"testing"

	"github.com/kvasir-auth/kvasir/backend/internal/models"
	"gorm.io/gorm"
)

func newTeamFixture(t *testing.T) (*TeamService, *gorm.DB, *models.User, *models.Team) {
	t.Helper()
	db := newTestDB(t)
	svc := NewTeamService(db)
	owner := createTestUser(t, db, "owner@example.com", "password123")

	team, err := svc.Create(owner.ID, &CreateTeamRequest{Name: "Platform Team", Description: "infra"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return svc, db, owner, team
}

func addMember(t *testing.T, svc *TeamService, db *gorm.DB, team *models.Team, actorID uint, email, role string) *models.User {
	t.Helper()
	user := createTestUser(t, db, email, "password123")
	if _, err := svc.AddMember(team.ID, actorID, &AddMemberRequest{Email: email, Role: role}); err != nil {
		t.Fatalf("AddMember(%s): %v", email, err)
	}
	return user
}

func TestTeam_CreateEnrollsOwner(t *testing.T) {
	svc, db, owner, team := newTeamFixture(t)

	if team.Slug != "platform-team" {
		t.Errorf("Slug = %q, want %q", team.Slug, "platform-team")
	}
	if team.OwnerID != owner.ID {
		t.Errorf("OwnerID = %d, want %d", team.OwnerID, owner.ID)
	}

	var member models.TeamMember
	if err := db.Where("team_id = ? AND user_id = ?", team.ID, owner.ID).First(&member).Error; err != nil {
		t.Fatalf("owner should be enrolled: %v", err)
	}
	if member.Role != models.TeamRoleOwner {
		t.Errorf("owner role = %q, want %q", member.Role, models.TeamRoleOwner)
	}

	// Same name again collides on the slug.
	if _, err := svc.Create(owner.ID, &CreateTeamRequest{Name: "Platform  Team!"}); err == nil {
		t.Error("slug collision should be rejected")
	}
}

func TestTeam_MembershipVisibility(t *testing.T) {
	svc, db, owner, team := newTeamFixture(t)
	outsider := createTestUser(t, db, "outsider@example.com", "password123")

	if _, err := svc.GetByID(team.ID, outsider.ID); err == nil {
		t.Error("non-members must not see the team")
	}
	if _, err := svc.GetByID(team.ID, owner.ID); err != nil {
		t.Errorf("the owner should see the team: %v", err)
	}

	teams, err := svc.ListForUser(outsider.ID)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(teams) != 0 {
		t.Errorf("outsider should see no teams, saw %d", len(teams))
	}
}

func TestTeam_AddMemberPermissions(t *testing.T) {
	svc, db, owner, team := newTeamFixture(t)
	member := addMember(t, svc, db, team, owner.ID, "member@example.com", models.TeamRoleMember)

	// A plain member cannot add others.
	createTestUser(t, db, "friend@example.com", "password123")
	if _, err := svc.AddMember(team.ID, member.ID, &AddMemberRequest{Email: "friend@example.com", Role: models.TeamRoleMember}); err == nil {
		t.Error("a member must not be able to add others")
	}

	// Unknown email.
	if _, err := svc.AddMember(team.ID, owner.ID, &AddMemberRequest{Email: "ghost@example.com", Role: models.TeamRoleMember}); err == nil {
		t.Error("unknown email should be rejected")
	}

	// Duplicate enrollment.
	if _, err := svc.AddMember(team.ID, owner.ID, &AddMemberRequest{Email: "member@example.com", Role: models.TeamRoleMember}); err == nil {
		t.Error("duplicate enrollment should be rejected")
	}
}

func TestTeam_RemoveMemberHierarchy(t *testing.T) {
	svc, db, owner, team := newTeamFixture(t)
	admin := addMember(t, svc, db, team, owner.ID, "admin@example.com", models.TeamRoleAdmin)
	member := addMember(t, svc, db, team, owner.ID, "member@example.com", models.TeamRoleMember)

	// An admin cannot remove another admin.
	admin2 := addMember(t, svc, db, team, owner.ID, "admin2@example.com", models.TeamRoleAdmin)
	if err := svc.RemoveMember(team.ID, admin.ID, admin2.ID); err == nil {
		t.Error("an admin must not remove another admin")
	}

	// Nobody removes the owner.
	if err := svc.RemoveMember(team.ID, admin.ID, owner.ID); err == nil {
		t.Error("the owner must not be removable")
	}

	// An admin removes a member.
	if err := svc.RemoveMember(team.ID, admin.ID, member.ID); err != nil {
		t.Errorf("an admin should remove a member: %v", err)
	}

	// The owner removes an admin.
	if err := svc.RemoveMember(team.ID, owner.ID, admin2.ID); err != nil {
		t.Errorf("the owner should remove an admin: %v", err)
	}
}

func TestTeam_LeaveAndTransfer(t *testing.T) {
	svc, db, owner, team := newTeamFixture(t)
	admin := addMember(t, svc, db, team, owner.ID, "admin@example.com", models.TeamRoleAdmin)

	// The owner cannot simply leave.
	if err := svc.Leave(team.ID, owner.ID); err == nil {
		t.Error("the owner must not leave without a transfer")
	}

	// Only the owner can transfer.
	if err := svc.TransferOwnership(team.ID, admin.ID, admin.ID); err == nil {
		t.Error("a non-owner must not transfer ownership")
	}

	if err := svc.TransferOwnership(team.ID, owner.ID, admin.ID); err != nil {
		t.Fatalf("TransferOwnership: %v", err)
	}

	var reloaded models.Team
	db.First(&reloaded, team.ID)
	if reloaded.OwnerID != admin.ID {
		t.Errorf("OwnerID = %d, want %d", reloaded.OwnerID, admin.ID)
	}

	// Roles swapped: old owner is now admin and may leave.
	if err := svc.Leave(team.ID, owner.ID); err != nil {
		t.Errorf("the former owner should be able to leave: %v", err)
	}
}

func TestTeam_Delete(t *testing.T) {
	svc, db, owner, team := newTeamFixture(t)
	admin := addMember(t, svc, db, team, owner.ID, "admin@example.com", models.TeamRoleAdmin)

	if err := svc.Delete(team.ID, admin.ID); err == nil {
		t.Error("only the owner may delete the team")
	}

	if err := svc.Delete(team.ID, owner.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var members int64
	db.Model(&models.TeamMember{}).Where("team_id = ?", team.ID).Count(&members)
	if members != 0 {
		t.Errorf("memberships should be gone, %d left", members)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Platform Team", "platform-team"},
		{"  Spaced  Out  ", "spaced-out"},
		{"Ops/SRE #1", "ops-sre-1"},
		{"---", ""},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
