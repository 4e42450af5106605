package repo

import (
	"context"
	"database/sql"
	"strings"

	"guardpost/internal/domain"
)

const staffColumns = `id,name,email,phone,role,department,on_duty,max_concurrent,skills_json,contact_channels_json,zone_id,zone_seen_at,is_simulated,created_at,updated_at`

func scanStaff(row alertRow) (domain.Staff, error) {
	var s domain.Staff
	var phone, department, zoneID, zoneSeenAt sql.NullString
	var skillsJSON, channelsJSON sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.Email, &phone, &s.Role, &department, &s.OnDuty, &s.MaxConcurrent,
		&skillsJSON, &channelsJSON, &zoneID, &zoneSeenAt, &s.IsSimulated, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Phone = phone.String
	s.Department = department.String
	s.ZoneID = zoneID.String
	s.ZoneSeenAt = zoneSeenAt.String
	if err := unmarshalInto(skillsJSON, &s.Skills); err != nil {
		return s, err
	}
	if err := unmarshalInto(channelsJSON, &s.ContactChannels); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) InsertStaff(ctx context.Context, s domain.Staff) error {
	skills, err := jsonOrNull(s.Skills)
	if err != nil {
		return err
	}
	channels, err := jsonOrNull(s.ContactChannels)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO staff(`+staffColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.Email, nullable(s.Phone), s.Role, nullable(s.Department), boolToInt(s.OnDuty), s.MaxConcurrent,
		skills, channels, nullable(s.ZoneID), nullable(s.ZoneSeenAt), boolToInt(s.IsSimulated), s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStaff(ctx context.Context, id string) (domain.Staff, error) {
	return scanStaff(r.DB.QueryRowContext(ctx, `SELECT `+staffColumns+` FROM staff WHERE id=?`, id))
}

func (r Repo) UpdateStaff(ctx context.Context, s domain.Staff) error {
	skills, err := jsonOrNull(s.Skills)
	if err != nil {
		return err
	}
	channels, err := jsonOrNull(s.ContactChannels)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE staff SET
name=?, email=?, phone=?, role=?, department=?, on_duty=?, max_concurrent=?, skills_json=?, contact_channels_json=?,
zone_id=?, zone_seen_at=?, updated_at=?
WHERE id=?`,
		s.Name, s.Email, nullable(s.Phone), s.Role, nullable(s.Department), boolToInt(s.OnDuty), s.MaxConcurrent,
		skills, channels, nullable(s.ZoneID), nullable(s.ZoneSeenAt), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetStaffDuty(ctx context.Context, id string, onDuty bool, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE staff SET on_duty=?, updated_at=? WHERE id=?`,
		boolToInt(onDuty), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetStaffLocation(ctx context.Context, id, zoneID, seenAt, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE staff SET zone_id=?, zone_seen_at=?, updated_at=? WHERE id=?`,
		nullable(zoneID), nullable(seenAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type StaffFilters struct {
	OnDutyOnly       bool
	Roles            []domain.Role
	ExcludeIDs       []string
	IncludeSimulated bool
	Simulated        bool
}

// ListStaff returns staff matching the filters, ordered by id for
// deterministic candidate iteration.
func (r Repo) ListStaff(ctx context.Context, f StaffFilters) ([]domain.Staff, error) {
	var clauses []string
	var args []any
	if f.OnDutyOnly {
		clauses = append(clauses, "on_duty=1")
	}
	if len(f.Roles) > 0 {
		ph := make([]string, len(f.Roles))
		for i, role := range f.Roles {
			ph[i] = "?"
			args = append(args, role)
		}
		clauses = append(clauses, "role IN ("+strings.Join(ph, ",")+")")
	}
	for _, id := range f.ExcludeIDs {
		clauses = append(clauses, "id != ?")
		args = append(args, id)
	}
	if !f.IncludeSimulated {
		clauses = append(clauses, "is_simulated=?")
		args = append(args, boolToInt(f.Simulated))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+staffColumns+` FROM staff `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
